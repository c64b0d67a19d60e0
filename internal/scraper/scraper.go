package scraper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ayush8285/dealertrack/internal/domain"
)

// Source produces one full inventory snapshot per call.
type Source interface {
	Scrape(ctx context.Context) (domain.Snapshot, error)
}

// loadMoreAttempts bounds the "Afficher plus" click loop. The lot holds well
// under 30 pages of vehicles.
const loadMoreAttempts = 30

// DealerScraper drives a headless browser against the dealer's inventory
// page. The site renders everything client side and lazy-loads vehicles
// behind a load-more button, so plain HTTP fetching sees nothing.
type DealerScraper struct {
	targetURL string
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDealerScraper creates a scraper against the given inventory URL.
func NewDealerScraper(targetURL string, timeout time.Duration, log zerolog.Logger) *DealerScraper {
	return &DealerScraper{
		targetURL: targetURL,
		timeout:   timeout,
		log:       log.With().Str("component", "scraper").Logger(),
	}
}

// Scrape loads the inventory page, reveals every vehicle and extracts one
// listing per card. A failed scrape returns ScrapeOK=false so downstream
// reconciliation never mistakes a browser failure for an empty lot.
func (s *DealerScraper) Scrape(ctx context.Context) (domain.Snapshot, error) {
	start := time.Now()
	s.log.Info().Str("url", s.targetURL).Msg("Starting inventory scrape")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"),
	)
	if bin := findChromeBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelTimeout := context.WithTimeout(browserCtx, s.timeout)
	defer cancelTimeout()

	cards, err := s.extractCards(runCtx)
	if err != nil {
		s.log.Error().Err(err).Msg("Scrape failed")
		return domain.Snapshot{ScrapeOK: false}, fmt.Errorf("inventory scrape: %w", err)
	}

	listings := make([]domain.Listing, 0, len(cards))
	for _, raw := range cards {
		l := ParseCard(raw)
		if l.VIN == "" {
			continue
		}
		listings = append(listings, l)
	}

	s.log.Info().
		Int("cards", len(cards)).
		Int("listings", len(listings)).
		Dur("elapsed", time.Since(start)).
		Msg("Scrape complete")

	return domain.Snapshot{Listings: listings, ScrapeOK: true}, nil
}

// extractCards navigates, exhausts the load-more button and pulls raw card
// data out of the page.
func (s *DealerScraper) extractCards(ctx context.Context) ([]RawCard, error) {
	if err := chromedp.Run(ctx,
		chromedp.Navigate(s.targetURL),
		chromedp.Sleep(5*time.Second),
	); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	if err := s.loadAllVehicles(ctx); err != nil {
		return nil, err
	}

	var cards []RawCard
	if err := chromedp.Run(ctx,
		chromedp.Evaluate(`
			(function() {
				var results = [];
				var seen = {};
				var links = document.querySelectorAll('a[href*="vehicleId"]');

				links.forEach(function(link) {
					var m = link.href.match(/vehicleId=([A-Z0-9]+)/i);
					var vin = m ? m[1] : '';
					if (!vin || seen[vin]) return;
					seen[vin] = true;

					var card = link;
					for (var i = 0; i < 15; i++) {
						if (!card.parentElement) break;
						card = card.parentElement;
						var cls = card.className || '';
						if (typeof cls === 'string' && cls.indexOf('VehicleCard') >= 0) break;
					}

					results.push({
						vin: vin,
						listing_url: link.href,
						card_text: card.innerText || ''
					});
				});
				return results;
			})()
		`, &cards),
	); err != nil {
		return nil, fmt.Errorf("extract cards: %w", err)
	}
	return cards, nil
}

// loadAllVehicles clicks the load-more button until the distinct vehicle
// count stops growing.
func (s *DealerScraper) loadAllVehicles(ctx context.Context) error {
	const countScript = `
		(function() {
			var seen = {};
			var n = 0;
			document.querySelectorAll('a[href*="vehicleId"]').forEach(function(a) {
				var m = a.href.match(/vehicleId=([A-Z0-9]+)/i);
				if (m && !seen[m[1]]) { seen[m[1]] = true; n++; }
			});
			return n;
		})()
	`
	const clickScript = `
		(function() {
			var btns = document.querySelectorAll('button, [class*="LoadMore"], [class*="load-more"]');
			for (var i = 0; i < btns.length; i++) {
				var text = (btns[i].innerText || '').toLowerCase();
				var cls = (btns[i].className || '').toString().toLowerCase();
				if (text.indexOf('afficher plus') >= 0 || text.indexOf('plus de') >= 0 ||
					text.indexOf('load more') >= 0 || cls.indexOf('loadmore') >= 0 ||
					cls.indexOf('load-more') >= 0) {
					btns[i].click();
					return true;
				}
			}
			return false;
		})()
	`

	prev := 0
	for attempt := 0; attempt < loadMoreAttempts; attempt++ {
		var clicked bool
		var count int
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(time.Second),
			chromedp.Evaluate(clickScript, &clicked),
		); err != nil {
			return fmt.Errorf("load more: %w", err)
		}
		if !clicked {
			break
		}

		if err := chromedp.Run(ctx,
			chromedp.Sleep(2500*time.Millisecond),
			chromedp.Evaluate(countScript, &count),
		); err != nil {
			return fmt.Errorf("count vehicles: %w", err)
		}

		s.log.Debug().Int("attempt", attempt+1).Int("vehicles", count).Msg("Load-more pass")
		if count == prev {
			break
		}
		prev = count
	}

	s.log.Info().Int("vehicles", prev).Msg("All vehicles revealed")
	return nil
}

// findChromeBinary locates a Chrome or Chromium binary, preferring CHROME_BIN.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	for _, p := range []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
