package notification

// Flags is the persisted bitset of notification kinds a receiver opted into.
// Bit positions are stable ABI: they are stored in the database and accepted
// from user forms, so they must never be renumbered.
type Flags int64

const (
	FlagBillSigned Flags = 1 << iota
	FlagBillAccepted
	FlagBillAcceptanceRequested
	FlagBillAcceptanceRejected
	FlagBillAcceptanceTimeout
	FlagBillAcceptanceRecourse
	FlagBillPaymentRequested
	FlagBillPaymentRejected
	FlagBillPaymentTimeout
	FlagBillPaymentRecourse
	FlagBillRecourseRejected
	FlagBillRecourseTimeout
	FlagBillSellOffered
	FlagBillBuyingRejected
	FlagBillPaid
	FlagBillRecoursePaid
	FlagBillEndorsed
	FlagBillSold
	FlagBillMintingRequested
	FlagBillNewQuote
	FlagBillQuoteApproved
)

// DefaultFlags is the opt-in set applied on registration: the operational
// bill lifecycle without the trade/quote edges.
const DefaultFlags = FlagBillSigned |
	FlagBillAccepted |
	FlagBillAcceptanceRequested |
	FlagBillAcceptanceTimeout |
	FlagBillAcceptanceRejected |
	FlagBillAcceptanceRecourse |
	FlagBillPaid |
	FlagBillPaymentRequested |
	FlagBillPaymentTimeout |
	FlagBillPaymentRejected |
	FlagBillPaymentRecourse |
	FlagBillRecoursePaid |
	FlagBillRecourseRejected |
	FlagBillRecourseTimeout |
	FlagBillMintingRequested

type flagInfo struct {
	flag  Flags
	name  string
	label string
	title string
}

// Declaration order fixes the rendering order of the preferences form.
var allFlags = []flagInfo{
	{FlagBillSigned, "BillSigned", "Bill Signed", "You have been issued an eBill."},
	{FlagBillAccepted, "BillAccepted", "Bill Accepted", "An eBill has been accepted."},
	{FlagBillAcceptanceRequested, "BillAcceptanceRequested", "Bill Acceptance Requested", "You have been requested to accept an eBill."},
	{FlagBillAcceptanceRejected, "BillAcceptanceRejected", "Bill Acceptance Rejected", "Acceptance of an eBill has been rejected."},
	{FlagBillAcceptanceTimeout, "BillAcceptanceTimeout", "Bill Acceptance Timeout", "Acceptance of an eBill has timed out."},
	{FlagBillAcceptanceRecourse, "BillAcceptanceRecourse", "Bill Acceptance Recourse", "You have been recoursed against on an eBill because of acceptance."},
	{FlagBillPaymentRequested, "BillPaymentRequested", "Bill Payment Requested", "You have been requested to pay an eBill."},
	{FlagBillPaymentRejected, "BillPaymentRejected", "Bill Payment Rejected", "Payment of an eBill has been rejected."},
	{FlagBillPaymentTimeout, "BillPaymentTimeout", "Bill Payment Timeout", "Payment of an eBill has timed out."},
	{FlagBillPaymentRecourse, "BillPaymentRecourse", "Bill Payment Recourse", "You have been recoursed against on an eBill because of payment."},
	{FlagBillRecourseRejected, "BillRecourseRejected", "Bill Recourse Rejected", "Recourse of an eBill has been rejected."},
	{FlagBillRecourseTimeout, "BillRecourseTimeout", "Bill Recourse Timeout", "Recourse of an eBill has timed out."},
	{FlagBillSellOffered, "BillSellOffered", "Bill Sell Offered", "You have been offered to buy an eBill."},
	{FlagBillBuyingRejected, "BillBuyingRejected", "Bill Buying Rejected", "Buying of an eBill has been rejected."},
	{FlagBillPaid, "BillPaid", "Bill Paid", "An eBill has been paid"},
	{FlagBillRecoursePaid, "BillRecoursePaid", "Bill Recourse Paid", "Recourse of an eBill has been paid."},
	{FlagBillEndorsed, "BillEndorsed", "Bill Endorsed", "You have been endorsed an eBill."},
	{FlagBillSold, "BillSold", "Bill Sold", "You have bought an eBill."},
	{FlagBillMintingRequested, "BillMintingRequested", "Bill Minting Requested", "You have been requested to mint an eBill."},
	{FlagBillNewQuote, "BillNewQuote", "Bill New Quote", "There is a new quote for an eBill."},
	{FlagBillQuoteApproved, "BillQuoteApproved", "Bill Quote Approved", "A quote for an eBill has been approved."},
}

// allFlagsMask covers every known bit.
func allFlagsMask() Flags {
	var mask Flags
	for _, fi := range allFlags {
		mask |= fi.flag
	}
	return mask
}

// FlagFromKind resolves a payload kind string (e.g. "BillAccepted") to its
// flag. ok is false for unknown kinds.
func FlagFromKind(kind string) (Flags, bool) {
	for _, fi := range allFlags {
		if fi.name == kind {
			return fi.flag, true
		}
	}
	return 0, false
}

// FlagFromBits validates a single user-supplied bit value. ok is false when
// the value is not exactly one known flag.
func FlagFromBits(bits int64) (Flags, bool) {
	f := Flags(bits)
	for _, fi := range allFlags {
		if fi.flag == f {
			return f, true
		}
	}
	return 0, false
}

// Contains reports whether every bit of other is set in f.
func (f Flags) Contains(other Flags) bool { return f&other == other }

// Title returns the human notification title for a single flag.
func (f Flags) Title() string {
	for _, fi := range allFlags {
		if fi.flag == f {
			return fi.title
		}
	}
	// Unknown single flag; keep a safe generic title.
	return "You have received a notification."
}

// FormFlag is one row of the preferences form.
type FormFlag struct {
	Checked bool
	Value   int64
	Name    string
}

// FormFlags renders the full known flag set with checked state. Unknown bits
// stored in f are preserved by the caller; they simply have no form row.
func (f Flags) FormFlags() []FormFlag {
	out := make([]FormFlag, 0, len(allFlags))
	for _, fi := range allFlags {
		out = append(out, FormFlag{
			Checked: f.Contains(fi.flag),
			Value:   int64(fi.flag),
			Name:    fi.label,
		})
	}
	return out
}
