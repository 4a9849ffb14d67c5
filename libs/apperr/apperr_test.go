package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validation("chair", "required"), http.StatusBadRequest},
		{fmt.Errorf("create: %w", NotFound("contact", "c1")), http.StatusNotFound},
		{Conflict("only failed notifications can be requeued"), http.StatusConflict},
		{Store("insert appointment", "", boom), http.StatusInternalServerError},
		{&PartialWriteError{AppointmentID: "a1", Err: boom}, http.StatusInternalServerError},
		{&TransportError{Timeout: true, Err: boom}, http.StatusBadGateway},
		{boom, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), "%v", tc.err)
	}
}

func TestPartialWriteIsNotValidation(t *testing.T) {
	err := fmt.Errorf("create appointment: %w", &PartialWriteError{AppointmentID: "a1", Err: Store("insert notifications", "a1", errors.New("down"))})

	var validation *ValidationError
	assert.False(t, errors.As(err, &validation))
	var partial *PartialWriteError
	assert.True(t, errors.As(err, &partial))
	assert.Equal(t, "a1", partial.AppointmentID)
	var store *StoreError
	assert.True(t, errors.As(err, &store), "store cause stays reachable")
}

func TestPublicMessageHidesStoreDetails(t *testing.T) {
	err := Store("list appointments", "", errors.New("password authentication failed for user clinic"))
	assert.Equal(t, "internal error", PublicMessage(err))
	assert.Equal(t, "phone_e164: must be E.164", PublicMessage(Validation("phone_e164", "must be E.164")))
	assert.Contains(t, PublicMessage(&PartialWriteError{AppointmentID: "a1", Err: err}), "a1")
}

func TestStoreNil(t *testing.T) {
	assert.NoError(t, Store("noop", "", nil))
}
