package shard

import "github.com/rpattn/fleetquery/internal/domain"

// DefaultSubAccounts is used when none of the requested entities has a
// sub-account mapping.
func DefaultSubAccounts() []string {
	return []string{"1", "2", "1010"}
}

// DefaultEntries returns the production fleet ownership table.
func DefaultEntries() []Entry {
	return []Entry{
		{Server: "MMN", Host: "10.30.11.2", Entities: []string{"3011", "3013", "3021", "3093"}},
		{Server: "USEB", Host: "10.31.11.2", Entities: []string{"3111", "3112", "3121", "3122", "3123", "3141", "3151", "3161"}},
		{Server: "ARJ", Host: "10.32.11.2", Entities: []string{"3211", "3213", "3221", "3293", "3251"}},
		{Server: "ARS", Host: "10.33.11.2", Entities: []string{"3311", "3313", "3321", "3393"}},
		{Server: "AMS", Host: "10.34.11.2", Entities: []string{"3411", "3413", "3421", "3493"}},
		{Server: "AMC", Host: "10.35.11.2", Entities: []string{"3511", "3513", "3521", "3593", "3541", "3153"}},
		{Server: "AML", Host: "10.36.11.2", Entities: []string{"3611", "3613", "3621", "3693"}},
		{Server: "AES", Host: "10.37.11.2", Entities: []string{"3711", "3713", "3721", "3793"}},
		{Server: "ARF", Host: "10.38.11.2", Entities: []string{"3811", "3813", "3821", "3893"}},
		{Server: "ASES", Host: "10.39.11.2", Entities: []string{"3911", "3913", "3921", "3993"}},
		{Server: "MMO", Host: "10.33.211.2", Entities: []string{"33211", "33213", "33221", "33293"}},
		{Server: "FADMINAS", Host: "10.31.24.2", Entities: []string{"3124", "3129"}},
		{Server: "IPAE", Host: "10.32.24.2", Entities: []string{"3224"}},
		{Server: "EDESSA", Host: "10.37.24.2", Entities: []string{"3724"}},
		{Server: "3154", Host: "10.31.42.2", Entities: []string{"3154"}},
	}
}

// DefaultSubAccountTable returns the per-entity sub-account mapping.
func DefaultSubAccountTable() map[string][]string {
	return map[string][]string{
		"3011":  {"2"},
		"3013":  {"1", "2"},
		"3021":  {"1", "1010"},
		"3124":  {"1", "2", "1010"},
		"3211":  {"1", "2"},
		"3213":  {"1", "2"},
		"3221":  {"1", "1010"},
		"3224":  {"1", "2", "1010"},
		"3251":  {"1"},
		"3311":  {"1", "2"},
		"3313":  {"1", "2"},
		"3321":  {"1", "2", "1010"},
		"3413":  {"1", "2"},
		"3421":  {"1010"},
		"3511":  {"1", "2"},
		"3513":  {"1", "2"},
		"3521":  {"1", "1010"},
		"3541":  {"1"},
		"3611":  {"1", "2"},
		"3613":  {"1", "2"},
		"3621":  {"1", "1010"},
		"3711":  {"1", "2"},
		"3713":  {"1", "2"},
		"3721":  {"1", "2", "1010"},
		"3724":  {"1", "1010"},
		"3811":  {"2"},
		"3813":  {"1", "2"},
		"3821":  {"1010"},
		"3911":  {"1", "2"},
		"3913":  {"1", "2"},
		"3921":  {"1", "1010"},
		"33211": {"2"},
		"33213": {"1"},
		"33221": {"1", "2", "1010"},
	}
}

// NewDefault builds a Directory over the production ownership table for the
// given fleet.
func NewDefault(fleet []domain.ServerDescriptor) (*Directory, error) {
	return New(DefaultEntries(), DefaultSubAccountTable(), fleet)
}
