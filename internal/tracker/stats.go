package tracker

// StageCounts reports how many applications reached at least each pipeline stage.
// Rejected applications only count toward Rejected and Total.
type StageCounts struct {
	Saved     int
	Applied   int
	Interview int
	Offer     int
	Joined    int
	Rejected  int
	Total     int
}

// CountStages computes "at least this far" counts for a collection.
func CountStages(applications []TrackedApplication) StageCounts {
	var reached [5]int
	counts := StageCounts{Total: len(applications)}
	for _, application := range applications {
		if application.Status == StatusRejected {
			counts.Rejected++
			continue
		}
		rank := application.Status.Rank()
		for stage := 0; stage <= rank; stage++ {
			reached[stage]++
		}
	}
	counts.Saved = reached[StatusSaved.Rank()]
	counts.Applied = reached[StatusApplied.Rank()]
	counts.Interview = reached[StatusInterview.Rank()]
	counts.Offer = reached[StatusOffer.Rank()]
	counts.Joined = reached[StatusJoined.Rank()]
	return counts
}

// AtLeast returns the count for a ranked status, or the exact rejected count.
func (counts StageCounts) AtLeast(status Status) int {
	switch status {
	case StatusSaved:
		return counts.Saved
	case StatusApplied:
		return counts.Applied
	case StatusInterview:
		return counts.Interview
	case StatusOffer:
		return counts.Offer
	case StatusJoined:
		return counts.Joined
	case StatusRejected:
		return counts.Rejected
	default:
		return 0
	}
}
