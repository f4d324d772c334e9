// booking-sim walks the booking flow against a running appointments service:
// create a slot, resolve availability, book, pay and confirm, then cancel.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcruz90/wellnessbook/libs/auth"
)

func main() {
	var (
		baseURL    = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "service base url")
		secret     = flag.String("jwt-secret", getenv("JWT_SECRET", ""), "signing secret for the bearer token")
		clientID   = flag.String("client-id", getenv("CLIENT_ID", "client-sim-1"), "client id claimed in the token")
		providerID = flag.String("provider-id", getenv("PROVIDER_ID", ""), "provider to create the slot under")
		serviceID  = flag.String("service-id", getenv("SERVICE_ID", ""), "service to book")
		date       = flag.String("date", getenv("SIM_DATE", time.Now().UTC().AddDate(0, 0, 2).Format("2006-01-02")), "appointment date (YYYY-MM-DD)")
		start      = flag.String("start", getenv("SIM_START", "10:00"), "slot start (HH:MM)")
		end        = flag.String("end", getenv("SIM_END", "11:00"), "slot end (HH:MM)")
		cancel     = flag.Bool("cancel", true, "cancel the appointment at the end")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("JWT_SECRET is required")
	}
	if strings.TrimSpace(*providerID) == "" || strings.TrimSpace(*serviceID) == "" {
		fatal("PROVIDER_ID and SERVICE_ID are required")
	}

	token, err := auth.SignHS256(auth.Claims{
		Sub: *clientID,
		Exp: time.Now().Add(time.Hour).Unix(),
		Iat: time.Now().Unix(),
	}, *secret)
	if err != nil {
		fatal(err.Error())
	}

	c := &client{base: strings.TrimRight(*baseURL, "/"), token: token}

	slot := c.post("/api/v1/slots", map[string]any{
		"provider_id": *providerID,
		"service_id":  *serviceID,
		"date":        *date,
		"start_time":  *start,
		"end_time":    *end,
	})
	slotID, _ := slot["slot_id"].(string)
	fmt.Printf("slot created: %s\n", slotID)

	q := url.Values{"service_id": {*serviceID}, "date": {*date}}
	options := c.get("/api/v1/availability?" + q.Encode())
	fmt.Printf("availability: %d option(s)\n", len(options["options"].([]any)))

	appt := c.post("/api/v1/appointments", map[string]any{
		"service_id": *serviceID,
		"slot_id":    slotID,
	})
	apptID, _ := appt["appointment_id"].(string)
	fmt.Printf("booked: %s status=%v\n", apptID, appt["status"])

	paid := c.post("/api/v1/appointments/payments", map[string]any{
		"appointment_id": apptID,
		"amount_cents":   9500,
		"currency":       "CAD",
		"transaction_id": "sim_" + uuid.NewString(),
	})
	if confirmed, ok := paid["appointment"].(map[string]any); ok {
		fmt.Printf("paid and confirmed: status=%v\n", confirmed["status"])
	}

	if *cancel {
		res := c.post("/api/v1/appointments/cancel", map[string]any{
			"appointment_id":     apptID,
			"payment_method_ref": "pm_card_visa",
		})
		fmt.Printf("cancelled: outcome=%v fee_charged=%v\n", res["outcome"], res["fee_charged"])
	}
}

type client struct {
	base  string
	token string
}

func (c *client) post(path string, body map[string]any) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		fatal(err.Error())
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return c.do(req)
}

func (c *client) get(path string) map[string]any {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		fatal(err.Error())
	}
	return c.do(req)
}

func (c *client) do(req *http.Request) map[string]any {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fatal(fmt.Sprintf("%s %s: status=%d body=%s", req.Method, req.URL.Path, resp.StatusCode, raw))
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			fatal(fmt.Sprintf("decode %s: %v", req.URL.Path, err))
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
