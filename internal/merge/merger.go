// Package merge joins ledger truth with metadata-store rows into merged
// event views. Every function here is pure: status is derived from the
// inputs and the supplied clock, never cached, so a merged view can only be
// as stale as what was read to build it.
package merge

import (
	"fmt"
	"math/big"

	"time"

	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/settlement"
)

// Status derives an event's lifecycle state: completed iff the ledger
// reports it closed, live once the close time has passed, upcoming before
// that.
func Status(closed bool, closeTime, now time.Time) domain.EventStatus {
	switch {
	case closed:
		return domain.EventStatusCompleted
	case !now.Before(closeTime):
		return domain.EventStatusLive
	default:
		return domain.EventStatusUpcoming
	}
}

// Merge combines a ledger event with its metadata row. Pool comes from the
// ledger, descriptive fields and bet counts from metadata, per-outcome
// stakes from the metadata mirror. When the ledger reports the event closed
// the winning option index is resolved against the metadata outcome list;
// an out-of-range index means the two stores disagree about outcome
// ordering and fails with ErrMergeInconsistent rather than guessing.
func Merge(led domain.LedgerEvent, meta domain.Event, now time.Time) (domain.MergedEvent, error) {
	if led.ID != meta.ID {
		return domain.MergedEvent{}, fmt.Errorf("merge: event id mismatch (ledger %d, metadata %d): %w",
			led.ID, meta.ID, domain.ErrMergeInconsistent)
	}

	merged := domain.MergedEvent{
		ID:              meta.ID,
		Title:           meta.Title,
		Description:     meta.Description,
		LongDescription: meta.LongDescription,
		Category:        meta.Category,
		CloseTime:       led.CloseTime,
		Status:          Status(led.Closed, led.CloseTime, now),
		Pool:            led.Pool,
		TotalBets:       meta.TotalBets,
		Outcomes:        mergeOutcomes(meta.Outcomes),
		WinningOption:   -1,
	}
	if merged.Pool == nil {
		merged.Pool = new(big.Int)
	}

	if led.Closed {
		winner, ok := meta.OutcomeByIndex(led.WinningOption)
		if !ok {
			return domain.MergedEvent{}, fmt.Errorf("merge: winning option %d out of range for %d outcomes of event %d: %w",
				led.WinningOption, len(meta.Outcomes), meta.ID, domain.ErrMergeInconsistent)
		}
		merged.WinningOption = led.WinningOption
		merged.WinningOutcomeID = winner.ID
	}

	return merged, nil
}

// MergeUserBet overlays a user's mirrored bet on a merged event, deriving
// win/claim state and the pari-mutuel payout for a winner.
func MergeUserBet(merged domain.MergedEvent, bet domain.Bet, calc *settlement.Calculator) (domain.BetView, error) {
	view := domain.BetView{
		Bet:        bet,
		EventTitle: merged.Title,
		Status:     merged.Status,
	}

	if merged.Status != domain.EventStatusCompleted {
		return view, nil
	}

	view.Won = bet.OutcomeID != "" && bet.OutcomeID == merged.WinningOutcomeID
	if !view.Won {
		return view, nil
	}

	winner, ok := merged.WinningOutcome()
	if !ok {
		return domain.BetView{}, fmt.Errorf("merge: winning outcome %q missing from merged event %d: %w",
			merged.WinningOutcomeID, merged.ID, domain.ErrMergeInconsistent)
	}

	payout, err := calc.Payout(bet.Amount, winner.Staked, merged.Pool)
	if err != nil {
		return domain.BetView{}, fmt.Errorf("merge: payout for bet %s: %w", bet.ID, err)
	}
	view.Payout = payout
	view.Claimable = !bet.Claimed
	return view, nil
}

// mergeOutcomes converts metadata outcomes and computes each outcome's
// share of the total staked amount in whole percent.
func mergeOutcomes(outcomes []domain.Outcome) []domain.MergedOutcome {
	total := new(big.Int)
	for _, o := range outcomes {
		if o.StakedAmount != nil {
			total.Add(total, o.StakedAmount)
		}
	}

	merged := make([]domain.MergedOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		staked := o.StakedAmount
		if staked == nil {
			staked = new(big.Int)
		}
		pct := 0
		if total.Sign() > 0 {
			// round(staked*100/total)
			p := new(big.Int).Mul(staked, big.NewInt(200))
			p.Add(p, total)
			p.Div(p, new(big.Int).Mul(total, big.NewInt(2)))
			pct = int(p.Int64())
		}
		merged = append(merged, domain.MergedOutcome{
			ID:      o.ID,
			Name:    o.Name,
			Staked:  staked,
			Percent: pct,
		})
	}
	return merged
}
