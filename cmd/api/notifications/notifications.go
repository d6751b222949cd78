package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bookshelf-service/cmd/api/book"
)

const (
	topicBookCreated  = "/New_book_created"
	topicReviewPosted = "/Review_posted"
)

type Ntfy struct {
	baseURL string
	enabled bool
	client  *http.Client
}

func NewNtfy(enableNotifications bool, notificationsBaseURL string, client *http.Client) *Ntfy {
	if client == nil {
		client = &http.Client{}
	}
	return &Ntfy{
		baseURL: strings.TrimSuffix(notificationsBaseURL, "/"),
		enabled: enableNotifications,
		client:  client,
	}
}

func (ntf *Ntfy) BookCreated(ctx context.Context, b book.Book) error {
	message := fmt.Sprintf("New book created:\nTitle: %s\nAuthor: %s", b.Title, b.Author)
	return ntf.publish(ctx, topicBookCreated, message)
}

func (ntf *Ntfy) ReviewPosted(ctx context.Context, r book.Review, created bool) error {
	action := "updated"
	if created {
		action = "posted"
	}
	message := fmt.Sprintf("Review %s:\nBook: %s\nRating: %d", action, r.BookID, r.Rating)
	return ntf.publish(ctx, topicReviewPosted, message)
}

/* Posts a plain text message to a topic. Does nothing when notifications are disabled. */
func (ntf *Ntfy) publish(ctx context.Context, topic, message string) error {
	if !ntf.enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ntf.baseURL+topic, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", ntf.baseURL+topic, err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("error delivering message to topic (%s): %w", ntf.baseURL+topic, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return book.NewErrNotificationFailed(resp.StatusCode)
	}
	return nil
}
