package types

// PriceQuote is the wire form of a wei price breakdown. Amounts are decimal
// strings so JSON consumers never round them through float64.
type PriceQuote struct {
	GrossWei       string `json:"gross_wei"`
	ProtocolFeeWei string `json:"protocol_fee_wei"`
	ReferralWei    string `json:"referral_wei"`
	NetWei         string `json:"net_wei"`
	Gross          string `json:"gross"` // ether
	Net            string `json:"net"`   // ether
	ReferralActive bool   `json:"referral_active"`
}
