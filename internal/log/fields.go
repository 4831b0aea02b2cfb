package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldTraceID     = "trace_id"
	FieldUserID      = "user_id"
	FieldUserName    = "user_name"
	FieldCommand     = "command"
	FieldStep        = "step"
	FieldOutcome     = "outcome"
	FieldCategory    = "category"
	FieldSubcategory = "subcategory"
	FieldAmount      = "amount"
	FieldRowRef      = "row_ref"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentBot          = "bot"
	ComponentConversation = "conversation"
	ComponentLedger       = "ledger"
	ComponentSheets       = "sheets"
	ComponentStorage      = "storage"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
	ComponentState        = "state"
	ComponentHTTP         = "http"
	ComponentBackend      = "backend"
)

// Operations defines standard operation names
const (
	OpAppend   = "append"
	OpScan     = "scan"
	OpLimits   = "limits"
	OpUpsert   = "upsert"
	OpSync     = "sync"
	OpReport   = "report"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithUser adds the chat user fields
func (f LogFields) WithUser(id int64, name string) LogFields {
	f[FieldUserID] = id
	f[FieldUserName] = name
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithEntry adds ledger entry fields
func (f LogFields) WithEntry(amount, category, subcategory string) LogFields {
	f[FieldAmount] = amount
	f[FieldCategory] = category
	f[FieldSubcategory] = subcategory
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
