package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
)

const DefaultURL = "https://exp.host/--/api/v2/push/send"

type sendResponse struct {
	Data json.RawMessage `json:"data"`
}

type ExpoClient struct {
	url    string
	client *http.Client
}

var _ interf.PushSender = (*ExpoClient)(nil)

func NewExpoClient(url string, timeout time.Duration) *ExpoClient {
	if url == "" {
		url = DefaultURL
	}
	return &ExpoClient{url: url, client: &http.Client{Timeout: timeout}}
}

// Отправка пачки сообщений, тикеты в порядке сообщений
func (e *ExpoClient) Send(ctx context.Context, messages []interf.PushMessage) ([]interf.PushTicket, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push service HTTP error: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseTickets(body)
}

// data - массив тикетов или один тикет
func ParseTickets(body []byte) ([]interf.PushTicket, error) {
	res := &sendResponse{}
	if err := json.Unmarshal(body, res); err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, fmt.Errorf("push response without data")
	}
	var tickets []interf.PushTicket
	if res.Data[0] == '[' {
		if err := json.Unmarshal(res.Data, &tickets); err != nil {
			return nil, err
		}
		return tickets, nil
	}
	var one interf.PushTicket
	if err := json.Unmarshal(res.Data, &one); err != nil {
		return nil, err
	}
	return []interf.PushTicket{one}, nil
}
