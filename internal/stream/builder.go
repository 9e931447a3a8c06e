package stream

// SubscriptionBuilder is a pure function from SubscriptionGroup to an
// upstream FilterSpec (C3). It holds no state beyond the configuration
// table of groups enumerated at startup.
type SubscriptionBuilder struct {
	programIDs map[string][]string // group name -> program identifiers
}

// NewSubscriptionBuilder builds a SubscriptionBuilder from a group -> program
// identifier set table, configured at startup.
func NewSubscriptionBuilder(programIDs map[string][]string) *SubscriptionBuilder {
	if programIDs == nil {
		programIDs = map[string][]string{
			"bonding_curve": {},
			"amm_pool":      {},
			"external_amm":  {},
		}
	}
	return &SubscriptionBuilder{programIDs: programIDs}
}

// Build maps a SubscriptionGroup to its upstream filter specification.
// Failed and vote transactions are always excluded per spec.md §3.
func (b *SubscriptionBuilder) Build(group SubscriptionGroup) FilterSpec {
	programs := b.programIDs[group.Name]
	if len(group.ProgramIDs) > 0 {
		programs = group.ProgramIDs
	}
	return FilterSpec{
		GroupName:      group.Name,
		AccountInclude: programs,
		Vote:           false,
		Failed:         false,
		Commitment:     group.Commitment,
	}
}
