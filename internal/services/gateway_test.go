package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func gatewayFor(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	viper.Set("gateway.base_url", server.URL)
	viper.Set("gateway.timeout", 2*time.Second)
	t.Cleanup(viper.Reset)

	return NewHTTPGateway()
}

func TestHTTPGateway_Refund(t *testing.T) {
	t.Run("confirmed refund returns gateway reference", func(t *testing.T) {
		var gotBody map[string]interface{}
		gw := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/refunds", r.URL.Path)
			json.NewDecoder(r.Body).Decode(&gotBody)
			json.NewEncoder(w).Encode(map[string]string{"refundId": "rf-100"})
		})

		refundID, err := gw.Refund(context.Background(), "tx-1", 5000)
		assert.NoError(t, err)
		assert.Equal(t, "rf-100", refundID)
		assert.Equal(t, "tx-1", gotBody["transactionId"])
		assert.Equal(t, float64(5000), gotBody["amount"])
	})

	t.Run("decline surfaces gateway code and message", func(t *testing.T) {
		gw := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"code": "ALREADY_REFUNDED", "message": "transaction already refunded"})
		})

		_, err := gw.Refund(context.Background(), "tx-1", 5000)
		var gwErr *GatewayError
		assert.True(t, asGatewayError(err, &gwErr))
		assert.Equal(t, "ALREADY_REFUNDED", gwErr.Code)
	})

	t.Run("context deadline maps to timeout sentinel", func(t *testing.T) {
		gw := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			json.NewEncoder(w).Encode(map[string]string{"refundId": "rf-late"})
		})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := gw.Refund(ctx, "tx-1", 5000)
		assert.ErrorIs(t, err, ErrGatewayTimeout)
	})

	t.Run("garbage response is a gateway error not a success", func(t *testing.T) {
		gw := gatewayFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>upstream exploded</html>"))
		})

		_, err := gw.Refund(context.Background(), "tx-1", 5000)
		var gwErr *GatewayError
		assert.True(t, asGatewayError(err, &gwErr))
		assert.Equal(t, "BAD_RESPONSE", gwErr.Code)
	})
}
