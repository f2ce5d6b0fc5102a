package gameerr

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain tags ErrorInfo details produced by this package.
const Domain = "dungeon.dungeonforge.dev"

// ToGRPCStatus converts the error to a gRPC status carrying an ErrorInfo
// detail with the code as reason and the metadata unchanged.
func (e *Error) ToGRPCStatus() error {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Message)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// ToStatus converts any engine error into a gRPC status error. Errors that are
// not domain errors become Internal unless they already are statuses.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var full *InventoryFullError
	if errors.As(err, &full) {
		return full.AsDomain().ToGRPCStatus()
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.ToGRPCStatus()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus rebuilds a domain error from a status produced by ToGRPCStatus.
// It returns nil when err carries no ErrorInfo from this domain.
func FromStatus(err error) *Error {
	st, ok := status.FromError(err)
	if !ok {
		return nil
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != Domain {
			continue
		}
		return &Error{
			Code:     Code(info.GetReason()),
			Message:  st.Message(),
			Metadata: info.GetMetadata(),
		}
	}
	return nil
}
