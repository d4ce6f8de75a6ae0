package pricing

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"DTokenSale/internal/models"
)

func TestNormalizeRescales(t *testing.T) {
	got, err := Normalize(Price{Value: big.NewInt(60000000000), Decimals: 8})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60000000000), got)

	got, err = Normalize(Price{Value: big.NewInt(600), Decimals: 0})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60000000000), got)

	eighteen, _ := new(big.Int).SetString("600123456789012345678", 10)
	got, err = Normalize(Price{Value: eighteen, Decimals: 18})
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60012345678), got)

	_, err = Normalize(Price{Value: big.NewInt(5), Decimals: 10})
	require.ErrorIs(t, err, models.ErrOracleUnavailable)

	_, err = Normalize(Price{Value: big.NewInt(-1), Decimals: 8})
	require.ErrorIs(t, err, models.ErrOracleUnavailable)
}

func TestOraclesRead(t *testing.T) {
	o := NewOracles()
	o.Register(" BNB-USD ", NewStaticFeed(big.NewInt(600), 0))
	o.Register("broken", FeedFunc(func(context.Context) (Price, error) {
		return Price{}, errors.New("feed down")
	}))

	require.True(t, o.Has("bnb-usd"))
	require.Equal(t, []string{"bnb-usd", "broken"}, o.IDs())

	price, err := o.Read(context.Background(), "BNB-USD")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60000000000), price)

	_, err = o.Read(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrOracleUnavailable)

	_, err = o.Read(context.Background(), "broken")
	require.ErrorIs(t, err, models.ErrOracleUnavailable)
}

func TestStaticFeedSet(t *testing.T) {
	f := NewStaticFeed(big.NewInt(1), 8)
	f.Set(big.NewInt(2), 8)
	p, err := f.LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2), p.Value)
}

func TestHTTPFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"value":"100000000","decimals":8}`))
		case "/number":
			_, _ = w.Write([]byte(`{"value":99980000,"decimals":8}`))
		case "/nodecimals":
			_, _ = w.Write([]byte(`{"value":"1"}`))
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPFeed(srv.URL+"/ok", time.Second).LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100000000), p.Value)
	require.Equal(t, uint8(8), p.Decimals)

	p, err = NewHTTPFeed(srv.URL+"/number", time.Second).LatestPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(99980000), p.Value)

	_, err = NewHTTPFeed(srv.URL+"/nodecimals", time.Second).LatestPrice(context.Background())
	require.Error(t, err)

	_, err = NewHTTPFeed(srv.URL+"/fail", time.Second).LatestPrice(context.Background())
	require.ErrorContains(t, err, "502")
}
