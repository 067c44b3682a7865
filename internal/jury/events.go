package jury

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/craftclass/jury/internal/chain/rpc"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Contract event names.
const (
	EventGroupCreated    = "GroupCreated"
	EventWorkRegistered  = "WorkRegistered"
	EventScoreSubmitted  = "ScoreSubmitted"
	EventGroupAggregated = "GroupAggregated"
	EventAwardPublished  = "AwardPublished"
)

// DefaultActivityBlocks is how far back RecentActivity looks by default.
const DefaultActivityBlocks = 1000

// maxActivity caps the activity feed.
const maxActivity = 10

// ErrUnknownEvent is returned for logs that are not contract events.
var ErrUnknownEvent = errors.New("unknown contract event")

// Event is a decoded contract event. Only the fields of its kind are set.
type Event struct {
	Name        string         `json:"name"`
	BlockNumber uint64         `json:"blockNumber"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	Time        time.Time      `json:"time,omitzero"`
	GroupID     *big.Int       `json:"groupId,omitempty"`
	WorkID      *big.Int       `json:"workId,omitempty"`
	Judge       common.Address `json:"judge,omitzero"`
	GroupName   string         `json:"groupName,omitempty"`
	Title       string         `json:"title,omitempty"`
	Category    Category       `json:"category"`
	JudgeCount  *big.Int       `json:"judgeCount,omitempty"`
	Score       uint8          `json:"score"`
	Tier        Tier           `json:"tier"`
}

// Summary describes the event in one line.
func (e Event) Summary() string {
	switch e.Name {
	case EventGroupCreated:
		return fmt.Sprintf("Group #%s %q created", e.GroupID, e.GroupName)
	case EventWorkRegistered:
		return fmt.Sprintf("Work #%s %q (%s) registered in group #%s", e.WorkID, e.Title, e.Category, e.GroupID)
	case EventScoreSubmitted:
		return fmt.Sprintf("Judge %s scored work #%s", ShortAddress(e.Judge), e.WorkID)
	case EventGroupAggregated:
		return fmt.Sprintf("Group #%s aggregated from %s judges", e.GroupID, e.JudgeCount)
	case EventAwardPublished:
		return fmt.Sprintf("Group #%s awarded %s (%d)", e.GroupID, e.Tier, e.Score)
	default:
		return e.Name
	}
}

// ShortAddress abbreviates an address as 0x1234...abcd.
func ShortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// ParseLog decodes one contract log.
func ParseLog(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, ErrUnknownEvent
	}
	ev, err := ContractABI.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, ErrUnknownEvent
	}

	fields := make(map[string]any)
	if len(l.Data) > 0 {
		if err := ContractABI.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
			return Event{}, fmt.Errorf("unpacking %s: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return Event{}, fmt.Errorf("parsing %s topics: %w", ev.Name, err)
	}

	out := Event{
		Name:        ev.Name,
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
	}
	out.GroupID, _ = fields["groupId"].(*big.Int)
	out.WorkID, _ = fields["workId"].(*big.Int)
	out.Judge, _ = fields["judge"].(common.Address)
	out.Title, _ = fields["title"].(string)
	out.JudgeCount, _ = fields["judgeCount"].(*big.Int)
	out.Score, _ = fields["score"].(uint8)
	if name, ok := fields["name"].(string); ok {
		out.GroupName = name
	}
	if c, ok := fields["category"].(uint8); ok {
		out.Category = Category(c)
	}
	if t, ok := fields["tier"].(uint8); ok {
		out.Tier = Tier(t)
	}
	return out, nil
}

// receiptEvents decodes the contract's events from a receipt, skipping
// logs emitted by other contracts.
func (b *Binding) receiptEvents(r *rpc.Receipt) []Event {
	var out []Event
	for _, l := range r.Logs {
		if l.Address != b.address {
			continue
		}
		ev, err := ParseLog(l.ToTypes())
		if err != nil {
			b.logger.Debug("jury: skipping log %d of %s: %v", l.Index, r.TxHash.Hex(), err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func findEvent(events []Event, name string) (Event, bool) {
	for _, ev := range events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Event{}, false
}

// RecentActivity returns the newest contract events from the last blocks,
// at most ten, newest first.
func (b *Binding) RecentActivity(ctx context.Context, blocks uint64) ([]Event, error) {
	if blocks == 0 {
		blocks = DefaultActivityBlocks
	}
	raw, err := b.provider.Request(ctx, "eth_blockNumber")
	if err != nil {
		return nil, callError(err)
	}
	var head hexutil.Uint64
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}
	from := uint64(0)
	if uint64(head) > blocks {
		from = uint64(head) - blocks
	}

	topics := make([]common.Hash, 0, len(ContractABI.Events))
	for _, ev := range ContractABI.Events {
		topics = append(topics, ev.ID)
	}
	raw, err = b.provider.Request(ctx, "eth_getLogs", map[string]any{
		"fromBlock": hexutil.Uint64(from),
		"toBlock":   "latest",
		"address":   b.address,
		"topics":    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, callError(err)
	}
	var logs []rpc.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, juryerr.WithCause(juryerr.ErrRequestFailed, err)
	}

	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		ev, err := ParseLog(l.ToTypes())
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].LogIndex > events[j].LogIndex
	})
	if len(events) > maxActivity {
		events = events[:maxActivity]
	}

	times := make(map[uint64]time.Time)
	for i := range events {
		n := events[i].BlockNumber
		t, ok := times[n]
		if !ok {
			t = b.blockTime(ctx, n)
			times[n] = t
		}
		events[i].Time = t
	}
	return events, nil
}

func (b *Binding) blockTime(ctx context.Context, number uint64) time.Time {
	raw, err := b.provider.Request(ctx, "eth_getBlockByNumber", hexutil.Uint64(number), false)
	if err != nil {
		b.logger.Debug("jury: block %d: %v", number, err)
		return time.Time{}
	}
	var block struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &block); err != nil || isNull(raw) {
		return time.Time{}
	}
	return time.Unix(int64(block.Timestamp), 0).UTC()
}
