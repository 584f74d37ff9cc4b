package reconciler

import (
	"fmt"
	"strings"

	"mmledger/internal/event"
)

// Entity names the role an entity plays in a handler.
type Entity string

const (
	EntityMarket          Entity = "Market"
	EntityAccount         Entity = "Account"
	EntityAsset           Entity = "Asset"
	EntityTargetAsset     Entity = "TargetAsset"
	EntityLiquidatorAsset Entity = "LiquidatorAsset"
	EntityProtocolParams  Entity = "ProtocolParameters"
)

// OnMiss is what a handler does when a load finds nothing.
type OnMiss int

const (
	// Create builds the entity from the event.
	Create OnMiss = iota
	// Fail aborts the event with a PrerequisiteError.
	Fail
	// Skip leaves the entity alone and carries on.
	Skip
)

func (o OnMiss) String() string {
	switch o {
	case Create:
		return "create"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("OnMiss(%d)", int(o))
	}
}

// MissPolicies is the load policy of every handler, per entity role.
// A role a kind does not list is never loaded by that kind.
var MissPolicies = map[event.Kind]map[Entity]OnMiss{
	event.KindSupplyReceived:  {EntityMarket: Fail, EntityAccount: Create, EntityAsset: Create},
	event.KindSupplyWithdrawn: {EntityMarket: Fail, EntityAsset: Fail},
	event.KindBorrowTaken:     {EntityMarket: Fail, EntityAsset: Create},
	event.KindBorrowRepaid:    {EntityMarket: Fail, EntityAsset: Fail},
	event.KindBorrowLiquidated: {
		EntityMarket:          Fail,
		EntityTargetAsset:     Fail,
		EntityLiquidatorAsset: Create,
	},
	event.KindSupportedMarket:            {EntityMarket: Create, EntityProtocolParams: Create},
	event.KindSuspendedMarket:            {EntityMarket: Fail},
	event.KindNewRiskParameters:          {EntityProtocolParams: Create},
	event.KindNewOriginationFee:          {EntityProtocolParams: Create},
	event.KindSetMarketInterestRateModel: {EntityMarket: Fail},
	event.KindPricePosted:                {EntityMarket: Skip},
	event.KindCappedPricePosted:          {EntityMarket: Skip},
}

func missPolicy(kind event.Kind, role Entity) OnMiss {
	if p, ok := MissPolicies[kind][role]; ok {
		return p
	}
	return Fail
}

// Reregistration decides what a SupportedMarket does for a known asset.
type Reregistration string

const (
	// Overwrite re-initialises the market, zeroing its aggregates.
	Overwrite Reregistration = "overwrite"
	// Ignore keeps the existing market untouched.
	Ignore Reregistration = "ignore"
	// Reject fails the event with ErrDuplicateRegistration.
	Reject Reregistration = "reject"
)

// ParseReregistration validates a configured policy name.
func ParseReregistration(name string) (Reregistration, error) {
	switch p := Reregistration(strings.ToLower(strings.TrimSpace(name))); p {
	case Overwrite, Ignore, Reject:
		return p, nil
	case "":
		return Ignore, nil
	default:
		return "", fmt.Errorf("unknown re-registration policy %q", name)
	}
}
