package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

const ProviderWuzAPI = "wuzapi"

// WuzAPISender sends messages via a WuzAPI user session. The channel token selects the session.
type WuzAPISender struct {
	Client *http.Client
}

func (s *WuzAPISender) Provider() string { return ProviderWuzAPI }

func (s *WuzAPISender) SendText(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error {
	if channel.BaseURL == "" || channel.APIToken == "" {
		return fmt.Errorf("wuzapi channel %q missing base url or token", channel.ID)
	}

	endpoint := strings.TrimRight(channel.BaseURL, "/") + "/chat/send/text"
	body, _ := json.Marshal(map[string]string{
		"Phone": phone,
		"Body":  message,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", channel.APIToken)

	return do(s.Client, req, ProviderWuzAPI)
}
