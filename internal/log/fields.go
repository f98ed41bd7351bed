package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldBillID      = "bill_id"
	FieldBillName    = "bill_name"
	FieldPatternID   = "pattern_id"
	FieldTxID        = "transaction_id"
	FieldAccountID   = "account_id"
	FieldAmountCents = "amount_cents"
	FieldDueDate     = "due_date"
	FieldConfidence  = "confidence"
	FieldFrequency   = "frequency"
	FieldSkipReason  = "skip_reason"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentReconcile   = "reconcile"
	ComponentDedupe      = "dedupe"
	ComponentSchedule    = "schedule"
	ComponentInstitution = "institution"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentFeed        = "feed"
	ComponentSheets      = "sheets"
	ComponentWorker      = "worker"
)

// Operations defines standard operation names
const (
	OpMarkPaid   = "mark_paid"
	OpUnmarkPaid = "unmark_paid"
	OpAdvance    = "advance"
	OpGenerate   = "generate"
	OpDedupe     = "dedupe"
	OpMatch      = "match"
	OpExport     = "export"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// LogFields provides a builder for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithOperation adds the operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds the error field when err is non-nil
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithBill adds bill identity fields
func (f LogFields) WithBill(id, name string, amountCents int64) LogFields {
	f[FieldBillID] = id
	f[FieldBillName] = name
	f[FieldAmountCents] = amountCents
	return f
}

// WithPattern adds the pattern identity field
func (f LogFields) WithPattern(id string) LogFields {
	f[FieldPatternID] = id
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
