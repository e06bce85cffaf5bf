package api

import "context"

type contextKey string

const (
	ctxKeyRequestID   contextKey = "request_id"
	ctxKeyFingerprint contextKey = "fingerprint"
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

func withFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, ctxKeyFingerprint, fp)
}

func fingerprintFromCtx(ctx context.Context) string {
	fp, _ := ctx.Value(ctxKeyFingerprint).(string)
	return fp
}
