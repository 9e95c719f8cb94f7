package session

import "context"

type sessionContextKey struct{}

// ContextWithSession binds a session snapshot to ctx.
func ContextWithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess.clone())
}

// FromContext returns the snapshot bound to ctx, if any.
func FromContext(ctx context.Context) (Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(Session)
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}
