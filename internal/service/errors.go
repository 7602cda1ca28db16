package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/tripledger/internal/idempotency"
	"github.com/mmynk/tripledger/internal/models"
)

// toConnectError maps ledger errors onto Connect status codes.
func toConnectError(err error) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return err
	}

	switch {
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidCurrency),
		errors.Is(err, models.ErrInvalidSplit),
		errors.Is(err, models.ErrUnknownParticipant):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, models.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, models.ErrParticipantInUse):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, idempotency.ErrInProgress):
		return connect.NewError(connect.CodeAborted, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, models.ErrLedgerInconsistency):
		slog.Error("Ledger inconsistency reached the API", "error", err)
		return connect.NewError(connect.CodeInternal, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func invalidArgument(msg string) error {
	return connect.NewError(connect.CodeInvalidArgument, errors.New(msg))
}
