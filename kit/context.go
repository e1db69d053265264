// Package kit carries request-scoped identifiers through the pipeline via
// context, so every log line emitted deep inside a phase can name the
// customer and run it belongs to.
package kit

import "context"

type contextKey string

const (
	CustomerIDKey contextKey = "kit_customer_id"
	RunIDKey      contextKey = "kit_run_id" // import or export run identifier
)

func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CustomerIDKey, id)
}
func GetCustomerID(ctx context.Context) string {
	v, _ := ctx.Value(CustomerIDKey).(string)
	return v
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}
func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(RunIDKey).(string)
	return v
}
