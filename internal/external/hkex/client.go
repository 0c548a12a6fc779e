package hkex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/wonny/aegis-warrant/pkg/httputil"
	"github.com/wonny/aegis-warrant/pkg/logger"
)

// DefaultHolidayURL is the exchange's public holiday page
const DefaultHolidayURL = "https://www.hkex.com.hk/Services/Settlement-and-Depository/Holiday-Schedule"

// Holiday is one full-day market closure
type Holiday struct {
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

// Client scrapes the exchange holiday schedule
// ⭐ SSOT: 거래소 휴장일 수집은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	url        string
}

// NewClient creates a scraper; an empty url uses DefaultHolidayURL
func NewClient(httpClient *httputil.Client, log *logger.Logger, url string) *Client {
	if url == "" {
		url = DefaultHolidayURL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		httpClient: httpClient,
		logger:     log.WithComponent("hkex"),
		url:        url,
	}
}

// FetchHolidays downloads the schedule and returns holidays of year (0 = all), sorted
func (c *Client) FetchHolidays(ctx context.Context, year int) ([]Holiday, error) {
	resp, err := c.httpClient.Get(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	holidays, err := parseHolidayHTML(string(body), year)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"year":  year,
		"count": len(holidays),
	}).Debug("Fetched exchange holidays")
	return holidays, nil
}

var (
	numericDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	isoDate     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	longDate    = regexp.MustCompile(`\b(\d{1,2}) (January|February|March|April|May|June|July|August|September|October|November|December) (\d{4})\b`)
)

// parseHolidayHTML reads every table row whose cells hold a date and a name.
// Supported date forms: DD/MM/YYYY, YYYY-MM-DD, "2 January 2026".
func parseHolidayHTML(html string, year int) ([]Holiday, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse holiday page: %w", err)
	}

	seen := make(map[string]bool)
	var holidays []Holiday

	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}

		var (
			date time.Time
			name string
		)
		cells.Each(func(j int, cell *goquery.Selection) {
			text := strings.Join(strings.Fields(cell.Text()), " ")
			if text == "" {
				return
			}
			if date.IsZero() {
				if d, ok := parseDate(text); ok {
					date = d
					return
				}
			}
			if name == "" {
				name = text
			}
		})

		if date.IsZero() || (year != 0 && date.Year() != year) {
			return
		}
		key := date.Format("2006-01-02")
		if seen[key] {
			return
		}
		seen[key] = true
		holidays = append(holidays, Holiday{Date: date, Name: name})
	})

	sort.Slice(holidays, func(i, j int) bool {
		return holidays[i].Date.Before(holidays[j].Date)
	})
	return holidays, nil
}

func parseDate(text string) (time.Time, bool) {
	if m := isoDate.FindString(text); m != "" {
		if d, err := time.Parse("2006-01-02", m); err == nil {
			return d, true
		}
	}
	if m := numericDate.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("2/1/2006", m[1]+"/"+m[2]+"/"+m[3]); err == nil {
			return d, true
		}
	}
	if m := longDate.FindString(text); m != "" {
		if d, err := time.Parse("2 January 2006", m); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
