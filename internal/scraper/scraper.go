package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/game"
)

const (
	ClubMeetingsURL = "https://bhv-handball.liga.nu/cgi-bin/WebObjects/nuLigaHBDE.woa/wa/clubMeetings"
	UserAgent       = "homegames/1.0 (github.com/pfrederiksen/homegames)"
	Timeout         = 30 * time.Second
)

// ErrNoTable is returned when the page has no meeting table, which usually
// means nuLiga changed its layout or returned an error page.
var ErrNoTable = errors.New("no result-set table in page")

const byeMarker = "spielfrei"

// column positions in the result-set table
const (
	colDay = iota
	colDate
	colTime
	colHall
	colNumber
	colTeam
	colHome
	colGuest
	colScore
	minColumns
)

// Options configure a Scraper.
type Options struct {
	URL    string
	ClubID string
	// Halls are hall ids; a row is kept when its hall cell contains one of
	// them. An empty list keeps every row.
	Halls   []string
	Season  game.Season
	Timeout time.Duration
}

// Scraper fetches and parses nuLiga club meetings.
type Scraper struct {
	client *http.Client
	url    string
	clubID string
	halls  []string
	season game.Season
}

// New creates a new Scraper instance
func New(opts Options) *Scraper {
	if opts.URL == "" {
		opts.URL = ClubMeetingsURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = Timeout
	}
	return &Scraper{
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		url:    opts.URL,
		clubID: opts.ClubID,
		halls:  opts.Halls,
		season: opts.Season,
	}
}

// Fetch posts the season search form and returns the home game rows. Every
// error is a FETCH_FAILED error.
func (s *Scraper) Fetch(ctx context.Context) ([]game.Raw, error) {
	form := url.Values{}
	form.Set("club", s.clubID)
	form.Set("searchType", "1")
	form.Set("searchTimeRangeFrom", s.season.From().Format(game.DisplayLayout))
	form.Set("searchTimeRangeTo", s.season.To().Format(game.DisplayLayout))
	form.Set("onlyHomeMeetings", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperr.Fetch("build request", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Fetch("fetch club meetings", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Fetch("fetch club meetings", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	raws, err := parseMeetings(resp.Body, s.halls)
	if err != nil {
		return nil, apperr.Fetch("parse club meetings", err)
	}
	return raws, nil
}

// parseMeetings extracts home game rows from a clubMeetings page.
func parseMeetings(r io.Reader, halls []string) ([]game.Raw, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	table := doc.Find("table.result-set").First()
	if table.Length() == 0 {
		return nil, ErrNoTable
	}

	raws := make([]game.Raw, 0)
	var day, date string

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < minColumns {
			return
		}
		cell := func(i int) string {
			return clean(cells.Eq(i).Text())
		}

		// day and date are only printed on the first game of a day
		if v := cell(colDay); v != "" {
			day = v
		}
		if v := cell(colDate); v != "" {
			date = v
		}

		raw := game.Raw{
			Day:    day,
			Date:   date,
			Time:   cell(colTime),
			Hall:   cell(colHall),
			Number: cell(colNumber),
			Team:   cell(colTeam),
			Home:   cell(colHome),
			Guest:  cell(colGuest),
			Note:   cell(colScore),
		}

		if !inHalls(raw.Hall, halls) {
			return
		}
		if raw.Number == "" || strings.EqualFold(raw.Guest, byeMarker) || strings.EqualFold(raw.Home, byeMarker) {
			return
		}
		raws = append(raws, raw)
	})

	return raws, nil
}

func inHalls(hall string, halls []string) bool {
	if len(halls) == 0 {
		return true
	}
	for _, h := range halls {
		if h != "" && strings.Contains(hall, h) {
			return true
		}
	}
	return false
}

// clean collapses whitespace. strings.Fields also splits on the
// non-breaking spaces nuLiga puts into empty cells.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
