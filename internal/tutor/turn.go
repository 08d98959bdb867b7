package tutor

import "context"

// runTurn executes one chat turn. Turns are not retried; a failure is
// reported to the Controller, which decides whether the session survives.
func runTurn(ctx context.Context, sess Session, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sess.Send(ctx, text)
}
