// Package jury binds the FHECraftJury contract: groups of craft works are
// scored by judges with encrypted sub-scores, aggregated on chain, and the
// decrypted group score is published as an award tier.
package jury

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	juryerr "github.com/craftclass/jury/pkg/errors"
)

// Category is the craft discipline of a work.
type Category uint8

// Categories in contract order.
const (
	CategoryLeather Category = iota
	CategoryWood
	CategoryMixed
)

var categoryNames = []string{"Leather", "Wood", "Mixed"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// ParseCategory accepts a category name (case-insensitive) or its number.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for i, name := range categoryNames {
		if strings.EqualFold(s, name) || s == fmt.Sprint(i) {
			return Category(i), nil
		}
	}
	return 0, juryerr.WithDetails(juryerr.ErrInvalidInput, map[string]string{"category": s})
}

// Tier is the published award level.
type Tier uint8

// Award tiers in contract order.
const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "None"
	case TierBronze:
		return "Bronze"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// TierFor maps a group score to its award tier.
func TierFor(score uint) Tier {
	switch {
	case score >= 85:
		return TierGold
	case score >= 75:
		return TierSilver
	case score >= 65:
		return TierBronze
	default:
		return TierNone
	}
}

// MaxScore is the upper bound of every sub-score.
const MaxScore = 100

// Score is one judge's sub-scores for a work.
type Score struct {
	Craftsmanship uint16 `json:"craftsmanship"`
	Detail        uint16 `json:"detail"`
	Originality   uint16 `json:"originality"`
}

// Validate checks every sub-score is within 0..100.
func (s Score) Validate() error {
	for name, v := range map[string]uint16{"craftsmanship": s.Craftsmanship, "detail": s.Detail, "originality": s.Originality} {
		if v > MaxScore {
			return juryerr.WithDetails(juryerr.ErrInvalidScore, map[string]string{name: fmt.Sprint(v)})
		}
	}
	return nil
}

// WeightedPreview is the client-side weighted score. The contract's
// aggregate is authoritative.
func WeightedPreview(s Score) float64 {
	return float64(s.Craftsmanship)*0.40 + float64(s.Detail)*0.35 + float64(s.Originality)*0.25
}

// Work is a registered craft work.
type Work struct {
	ID        *big.Int `json:"id"`
	Title     string   `json:"title"`
	Category  Category `json:"category"`
	GroupID   *big.Int `json:"groupId"`
	Timestamp *big.Int `json:"timestamp"`
	Exists    bool     `json:"exists"`
}

// Group is a set of works scored together.
type Group struct {
	ID      *big.Int   `json:"id"`
	Name    string     `json:"name"`
	WorkIDs []*big.Int `json:"workIds"`
	Exists  bool       `json:"exists"`
}

// GroupAggregate is the encrypted aggregate of a group.
type GroupAggregate struct {
	OverallScore common.Hash `json:"overallScore"`
	JudgeCount   *big.Int    `json:"judgeCount"`
	Aggregated   bool        `json:"aggregated"`
}

// Award is a published group result.
type Award struct {
	Score     uint8 `json:"score"`
	Tier      Tier  `json:"tier"`
	Published bool  `json:"published"`
}
