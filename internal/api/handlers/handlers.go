package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dvloznov/account-ledger/internal/api/middleware"
	"github.com/dvloznov/account-ledger/internal/domain"
)

// AccountService is the account lifecycle the handlers depend on.
// *ledger.Service implements it.
type AccountService interface {
	Open(ctx context.Context, ownerID, initialBalance int64) (domain.AccountView, error)
	Close(ctx context.Context, ownerID int64, number string) (domain.AccountView, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.AccountView, error)
}

// TransactionService is the balance-operation surface the handlers depend on.
// *transaction.Processor implements it.
type TransactionService interface {
	UseBalance(ctx context.Context, ownerID int64, number string, amount int64) (domain.TransactionView, error)
	RecordFailedUse(ctx context.Context, number string, amount int64) (domain.TransactionView, error)
	CancelBalance(ctx context.Context, reference, number string, amount int64) (domain.TransactionView, error)
	RecordFailedCancel(ctx context.Context, number string, amount int64) (domain.TransactionView, error)
	QueryTransaction(ctx context.Context, reference string) (domain.TransactionView, error)
	History(ctx context.Context, number string) ([]domain.TransactionView, error)
}

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case "":
		return http.StatusInternalServerError
	case domain.KindOwnerNotFound, domain.KindAccountNotFound, domain.KindTransactionNotFound:
		return http.StatusNotFound
	case domain.KindOwnershipMismatch, domain.KindTransactionAccountMismatch:
		return http.StatusForbidden
	case domain.KindAccountLocked:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeOpError renders err. Ledger rule violations carry their kind as the
// error code; anything else is logged and hidden behind a generic message.
func writeOpError(w http.ResponseWriter, log zerolog.Logger, op string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("Operation failed")
		middleware.WriteError(w, status, "Internal server error")
		return
	}

	log.Info().Err(err).Str("op", op).Msg("Operation rejected")
	var derr *domain.Error
	errors.As(err, &derr)
	middleware.WriteErrorCode(w, status, string(derr.Kind), err.Error())
}

// validate checks request structs against their validate tags. Field
// names in its errors are the JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a JSON body, rejecting unknown fields, and validates
// it. The returned message is safe to show to the client.
func decodeRequest(r *http.Request, dst interface{}) (string, bool) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return "Invalid request body", false
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err), false
	}
	return "", true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
