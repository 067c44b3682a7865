package jury

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/craftclass/jury/internal/config"
	"github.com/craftclass/jury/internal/fhevm"
	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Client is the contract surface the views use. Reads never fail: errors
// are logged and a zero value is returned. Writes check readiness first.
type Client struct {
	binding    *Binding
	session    *fhevm.Session
	signatures *fhevm.SignatureStore
	logger     config.LogWriter
}

// NewClient wraps a binding. binding may be nil when the chain has no
// deployment; session and signatures are needed for scoring and decryption.
func NewClient(binding *Binding, session *fhevm.Session, signatures *fhevm.SignatureStore, logger config.LogWriter) *Client {
	if logger == nil {
		logger = config.NullLogger()
	}
	return &Client{binding: binding, session: session, signatures: signatures, logger: logger}
}

// Binding returns the bound contract, nil when not deployed.
func (c *Client) Binding() *Binding { return c.binding }

// Deployed reports whether the current chain has a deployment.
func (c *Client) Deployed() bool { return c.binding != nil }

// IsReady reports whether the contract is bound and the encrypted
// computation session is ready.
func (c *Client) IsReady() bool {
	return c.binding != nil && c.session != nil && c.session.IsReady()
}

func (c *Client) requireBinding() error {
	if c.binding == nil {
		return juryerr.ErrNotDeployed
	}
	return nil
}

func (c *Client) instance() (fhevm.Instance, error) {
	if err := c.requireBinding(); err != nil {
		return nil, err
	}
	if c.session == nil {
		return nil, juryerr.ErrSessionNotReady
	}
	inst := c.session.Instance()
	if inst == nil {
		return nil, juryerr.ErrSessionNotReady
	}
	return inst, nil
}

func (c *Client) logRead(name string, err error) {
	c.logger.Error("jury: reading %s: %v", name, err)
}

func toUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

// WorkCount returns the number of works, zero on failure.
func (c *Client) WorkCount(ctx context.Context) uint64 {
	if c.binding == nil {
		return 0
	}
	v, err := c.binding.WorkCount(ctx)
	if err != nil {
		c.logRead("workCount", err)
		return 0
	}
	return toUint64(v)
}

// GroupCount returns the number of groups, zero on failure.
func (c *Client) GroupCount(ctx context.Context) uint64 {
	if c.binding == nil {
		return 0
	}
	v, err := c.binding.GroupCount(ctx)
	if err != nil {
		c.logRead("groupCount", err)
		return 0
	}
	return toUint64(v)
}

// ScoringDeadline returns the deadline as unix seconds, zero when unset
// or on failure.
func (c *Client) ScoringDeadline(ctx context.Context) uint64 {
	if c.binding == nil {
		return 0
	}
	v, err := c.binding.ScoringDeadline(ctx)
	if err != nil {
		c.logRead("scoringDeadline", err)
		return 0
	}
	return toUint64(v)
}

// GetWork returns a work, nil on failure or when it does not exist.
func (c *Client) GetWork(ctx context.Context, workID uint64) *Work {
	if c.binding == nil {
		return nil
	}
	w, err := c.binding.GetWork(ctx, new(big.Int).SetUint64(workID))
	if err != nil {
		c.logRead("getWork", err)
		return nil
	}
	if !w.Exists {
		return nil
	}
	return w
}

// GetGroup returns a group, nil on failure or when it does not exist.
func (c *Client) GetGroup(ctx context.Context, groupID uint64) *Group {
	if c.binding == nil {
		return nil
	}
	g, err := c.binding.GetGroup(ctx, new(big.Int).SetUint64(groupID))
	if err != nil {
		c.logRead("getGroup", err)
		return nil
	}
	if !g.Exists {
		return nil
	}
	return g
}

// ListGroups returns every existing group in id order.
func (c *Client) ListGroups(ctx context.Context) []*Group {
	n := c.GroupCount(ctx)
	out := make([]*Group, 0, n)
	for id := uint64(0); id < n; id++ {
		if g := c.GetGroup(ctx, id); g != nil {
			out = append(out, g)
		}
	}
	return out
}

// ListWorks returns every existing work in id order.
func (c *Client) ListWorks(ctx context.Context) []*Work {
	n := c.WorkCount(ctx)
	out := make([]*Work, 0, n)
	for id := uint64(0); id < n; id++ {
		if w := c.GetWork(ctx, id); w != nil {
			out = append(out, w)
		}
	}
	return out
}

// GroupAggregate returns a group's encrypted aggregate, nil on failure.
func (c *Client) GroupAggregate(ctx context.Context, groupID uint64) *GroupAggregate {
	if c.binding == nil {
		return nil
	}
	a, err := c.binding.GroupAggregate(ctx, new(big.Int).SetUint64(groupID))
	if err != nil {
		c.logRead("getGroupAggregate", err)
		return nil
	}
	return a
}

// PublishedAward returns a group's award, nil on failure.
func (c *Client) PublishedAward(ctx context.Context, groupID uint64) *Award {
	if c.binding == nil {
		return nil
	}
	a, err := c.binding.PublishedAward(ctx, new(big.Int).SetUint64(groupID))
	if err != nil {
		c.logRead("publishedAwards", err)
		return nil
	}
	return a
}

// HasScored reports whether the bound account already scored a work.
func (c *Client) HasScored(ctx context.Context, workID uint64) bool {
	if c.binding == nil {
		return false
	}
	ok, err := c.binding.HasJudgeScoredWork(ctx, new(big.Int).SetUint64(workID), c.binding.account)
	if err != nil {
		c.logRead("hasJudgeScoredWork", err)
		return false
	}
	return ok
}

// WorkJudgeCount returns how many judges scored a work, zero on failure.
func (c *Client) WorkJudgeCount(ctx context.Context, workID uint64) uint64 {
	if c.binding == nil {
		return 0
	}
	v, err := c.binding.WorkJudgeCount(ctx, new(big.Int).SetUint64(workID))
	if err != nil {
		c.logRead("getWorkJudgeCount", err)
		return 0
	}
	return toUint64(v)
}

// RecentActivity returns the latest contract events, nil on failure.
func (c *Client) RecentActivity(ctx context.Context, blocks uint64) []Event {
	if c.binding == nil {
		return nil
	}
	events, err := c.binding.RecentActivity(ctx, blocks)
	if err != nil {
		c.logRead("activity", err)
		return nil
	}
	return events
}

// CreateGroup creates a group and returns its id from the GroupCreated event.
// The id is nil when the receipt carries no such event.
func (c *Client) CreateGroup(ctx context.Context, name string) (*big.Int, *TxResult, error) {
	if err := c.requireBinding(); err != nil {
		return nil, nil, err
	}
	if name == "" {
		return nil, nil, juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"name": "empty"})
	}
	res, err := c.binding.transact(ctx, "createGroup", name)
	if err != nil {
		return nil, nil, err
	}
	ev, ok := findEvent(res.Events, EventGroupCreated)
	if !ok {
		c.logger.Error("jury: createGroup mined in %s without %s", res.Hash.Hex(), EventGroupCreated)
		return nil, res, nil
	}
	return ev.GroupID, res, nil
}

// RegisterWork registers a work in a group and returns its id.
func (c *Client) RegisterWork(ctx context.Context, title string, category Category, groupID uint64) (*big.Int, *TxResult, error) {
	if err := c.requireBinding(); err != nil {
		return nil, nil, err
	}
	if title == "" {
		return nil, nil, juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"title": "empty"})
	}
	if category > CategoryMixed {
		return nil, nil, juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"category": category.String()})
	}
	res, err := c.binding.transact(ctx, "registerWork", title, uint8(category), new(big.Int).SetUint64(groupID))
	if err != nil {
		return nil, nil, err
	}
	ev, ok := findEvent(res.Events, EventWorkRegistered)
	if !ok {
		c.logger.Error("jury: registerWork mined in %s without %s", res.Hash.Hex(), EventWorkRegistered)
		return nil, res, nil
	}
	return ev.WorkID, res, nil
}

// SubmitScore encrypts the three sub-scores as 16-bit values in the order
// craftsmanship, detail, originality and submits them with one proof.
func (c *Client) SubmitScore(ctx context.Context, workID uint64, s Score) (*TxResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	inst, err := c.instance()
	if err != nil {
		return nil, err
	}

	batch, err := inst.CreateEncryptedInput(c.binding.address, c.binding.account).
		Add16(s.Craftsmanship).
		Add16(s.Detail).
		Add16(s.Originality).
		Encrypt(ctx)
	if err != nil {
		return nil, err
	}
	if len(batch.Handles) != 3 {
		return nil, fhevm.ErrInputProof
	}

	return c.binding.transact(ctx, "submitScore",
		new(big.Int).SetUint64(workID),
		batch.Handles[0], batch.Handles[1], batch.Handles[2],
		batch.InputProof,
	)
}

// AggregateGroup computes the encrypted group aggregate on chain.
func (c *Client) AggregateGroup(ctx context.Context, groupID uint64) (*TxResult, error) {
	if err := c.requireBinding(); err != nil {
		return nil, err
	}
	return c.binding.transact(ctx, "aggregateGroup", new(big.Int).SetUint64(groupID))
}

// PublishAward publishes the decrypted group score. The contract derives
// the tier; TierFor gives the same answer locally.
func (c *Client) PublishAward(ctx context.Context, groupID uint64, score uint8) (*TxResult, error) {
	if err := c.requireBinding(); err != nil {
		return nil, err
	}
	if score > MaxScore {
		return nil, juryerr.WithDetails(juryerr.ErrInvalidScore, map[string]string{"score": strconv.Itoa(int(score))})
	}
	return c.binding.transact(ctx, "publishAward", new(big.Int).SetUint64(groupID), score)
}

// SetScoringDeadline sets the scoring deadline to a unix timestamp.
func (c *Client) SetScoringDeadline(ctx context.Context, deadline uint64) (*TxResult, error) {
	if err := c.requireBinding(); err != nil {
		return nil, err
	}
	return c.binding.transact(ctx, "setScoringDeadline", new(big.Int).SetUint64(deadline))
}

// DecryptGroupScore decrypts an aggregated group score for the bound
// account. The decryption signature is cached per account and contract.
func (c *Client) DecryptGroupScore(ctx context.Context, groupID uint64) (*big.Int, error) {
	inst, err := c.instance()
	if err != nil {
		return nil, err
	}
	if c.signatures == nil {
		return nil, juryerr.ErrSessionNotReady
	}

	agg, err := c.binding.GroupAggregate(ctx, new(big.Int).SetUint64(groupID))
	if err != nil {
		return nil, err
	}
	if !agg.Aggregated || agg.OverallScore == (common.Hash{}) {
		return nil, juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{
			"group":  strconv.FormatUint(groupID, 10),
			"reason": "not aggregated",
		})
	}

	contract := c.binding.address
	sig, err := c.signatures.LoadOrSign(ctx, inst, c.binding.provider, c.binding.account, []common.Address{contract})
	if err != nil {
		return nil, err
	}
	values, err := inst.UserDecrypt(ctx, sig.Request(fhevm.HandleContractPair{Handle: agg.OverallScore, ContractAddress: contract}))
	if err != nil {
		return nil, err
	}
	v, ok := values[agg.OverallScore]
	if !ok {
		return nil, juryerr.WithDetails(juryerr.ErrNotFound, map[string]string{"handle": agg.OverallScore.Hex()})
	}
	return v, nil
}
