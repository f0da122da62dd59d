package enums

// IntegrityEntityType names what an integrity flag points at.
type IntegrityEntityType string

const (
	IntegrityEntityOrder  IntegrityEntityType = "order"
	IntegrityEntityShop   IntegrityEntityType = "shop"
	IntegrityEntityPayout IntegrityEntityType = "payout"
	IntegrityEntityWallet IntegrityEntityType = "wallet"
)

// IntegrityFlagKind is the failed reconciliation check.
type IntegrityFlagKind string

const (
	IntegrityOrderCollectionMismatch IntegrityFlagKind = "order_collection_mismatch"
	IntegrityPayoutAmountMismatch    IntegrityFlagKind = "payout_amount_mismatch"
	IntegrityPayoutCommissionState   IntegrityFlagKind = "payout_commission_state"
	IntegrityWalletBalanceDrift      IntegrityFlagKind = "wallet_balance_drift"
	IntegrityRefundAfterPayout       IntegrityFlagKind = "refund_after_payout"
	IntegrityGatewayAmountMismatch   IntegrityFlagKind = "gateway_amount_mismatch"
	IntegrityGatewayResultRejected   IntegrityFlagKind = "gateway_result_rejected"
)

// IntegrityFlagStatus tracks operator review.
type IntegrityFlagStatus string

const (
	IntegrityFlagOpen     IntegrityFlagStatus = "open"
	IntegrityFlagResolved IntegrityFlagStatus = "resolved"
)

var validIntegrityEntityTypes = []IntegrityEntityType{
	IntegrityEntityOrder,
	IntegrityEntityShop,
	IntegrityEntityPayout,
	IntegrityEntityWallet,
}

func (t IntegrityEntityType) IsValid() bool {
	for _, candidate := range validIntegrityEntityTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
