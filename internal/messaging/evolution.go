package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/RealZimboGuy/reguaflow/pkg/reguaflow/domain"
)

const ProviderEvolution = "evolution"

// EvolutionSender sends messages via an Evolution API instance.
type EvolutionSender struct {
	Client *http.Client
}

func (s *EvolutionSender) Provider() string { return ProviderEvolution }

func (s *EvolutionSender) SendText(ctx context.Context, channel *domain.MessagingChannel, phone string, message string) error {
	if channel.BaseURL == "" || channel.InstanceName == "" {
		return fmt.Errorf("evolution channel %q missing base url or instance name", channel.ID)
	}

	endpoint := strings.TrimRight(channel.BaseURL, "/") + "/message/sendText/" + url.PathEscape(channel.InstanceName)
	body, _ := json.Marshal(map[string]string{
		"number": phone,
		"text":   message,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", channel.APIToken)

	return do(s.Client, req, ProviderEvolution)
}
