package main

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"ticket-reconciliation-service/internal/synth"
)

// TicketGenerator writes a ledger CSV and matching synthetic scans
type TicketGenerator struct {
	Count     int
	PerPage   int
	DPI       int
	StartDate time.Time
	Seed      int64
	OutputDir string

	rng *rand.Rand
}

// LedgerRow is one generated ledger entry and what its scan shows
type LedgerRow struct {
	TicketID   string
	Identifier string
	Date       time.Time
	Reference  string
	NetWeight  decimal.Decimal

	// Printed is what appears on the scan; nil means no scan.
	Printed *synth.Ticket
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated", "Output directory for the ledger and pages")
		count     = flag.Int("count", 12, "Number of ledger tickets")
		perPage   = flag.Int("per-page", 2, "Tickets per scanned page (1-3)")
		dpi       = flag.Int("dpi", 300, "Resolution recorded in the PNG files")
		startDate = flag.String("start-date", "2024-03-01", "Date of the first ticket (YYYY-MM-DD)")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		scenario  = flag.String("scenario", "clean", "Scenario: clean, missing, extra, misread, duplicates")
	)
	flag.Parse()

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	if *perPage < 1 || *perPage > 3 {
		log.Fatalf("per-page must be between 1 and 3")
	}

	if err := os.MkdirAll(filepath.Join(*outputDir, "pages"), 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	generator := &TicketGenerator{
		Count:     *count,
		PerPage:   *perPage,
		DPI:       *dpi,
		StartDate: start,
		Seed:      *seed,
		OutputDir: *outputDir,
		rng:       rand.New(rand.NewSource(*seed)),
	}

	rows := generator.GenerateRows()
	extra, err := generator.ApplyScenario(*scenario, rows)
	if err != nil {
		log.Fatal(err)
	}

	if err := generator.WriteLedger(filepath.Join(*outputDir, "ledger.csv"), rows); err != nil {
		log.Fatalf("Failed to write ledger: %v", err)
	}
	pages, err := generator.WritePages(rows, extra)
	if err != nil {
		log.Fatalf("Failed to write pages: %v", err)
	}

	fmt.Printf("Generated %d ledger tickets and %d pages in %s\n", len(rows), pages, *outputDir)
	fmt.Printf("Scenario: %s\n", *scenario)
	fmt.Printf("Seed used: %d\n", *seed)
}

// GenerateRows creates ledger rows whose scans print the same values
func (tg *TicketGenerator) GenerateRows() []*LedgerRow {
	rows := make([]*LedgerRow, tg.Count)
	base := 100000 + tg.rng.Intn(800000)

	for i := range rows {
		date := tg.StartDate.AddDate(0, 0, i/4)
		weight := decimal.NewFromFloat(8 + tg.rng.Float64()*30).Round(2)
		row := &LedgerRow{
			TicketID:   fmt.Sprintf("L%04d", i+1),
			Identifier: fmt.Sprintf("T%d", base+i*7),
			Date:       date,
			Reference:  fmt.Sprintf("%c%c%c%03d", 'A'+tg.rng.Intn(26), 'A'+tg.rng.Intn(26), 'A'+tg.rng.Intn(26), tg.rng.Intn(1000)),
			NetWeight:  weight,
		}
		row.Printed = &synth.Ticket{
			Identifier: row.Identifier,
			Date:       date.Format("02/01/2006"),
			Reference:  row.Reference,
			NetWeight:  weight.StringFixed(2),
		}
		rows[i] = row
	}
	return rows
}

// ApplyScenario mutates the rows and returns scans with no ledger entry
func (tg *TicketGenerator) ApplyScenario(scenario string, rows []*LedgerRow) ([]synth.Ticket, error) {
	switch scenario {
	case "clean":
		return nil, nil

	case "missing":
		// Every fourth ticket was never scanned
		for i := 3; i < len(rows); i += 4 {
			rows[i].Printed = nil
		}
		return nil, nil

	case "extra":
		// Scans from another client batch
		return []synth.Ticket{
			{Identifier: "T999001", Date: tg.StartDate.Format("02/01/2006"), Reference: "ZZZ001", NetWeight: "12.00"},
			{Identifier: "T999002", Date: tg.StartDate.Format("02/01/2006"), Reference: "ZZZ002", NetWeight: "14.50"},
		}, nil

	case "misread":
		// One character of the identifier is confusable on every third scan
		for i := 2; i < len(rows); i += 3 {
			if rows[i].Printed != nil {
				rows[i].Printed.Identifier = confusable(rows[i].Printed.Identifier)
			}
		}
		return nil, nil

	case "duplicates":
		// The first ticket is scanned twice and the ledger repeats one identifier
		if len(rows) < 3 {
			return nil, fmt.Errorf("duplicates scenario needs at least 3 tickets")
		}
		rows[len(rows)-1].Identifier = rows[1].Identifier
		rows[len(rows)-1].Printed = nil
		return []synth.Ticket{*rows[0].Printed}, nil

	default:
		return nil, fmt.Errorf("unknown scenario: %s", scenario)
	}
}

// confusable swaps the first digit that has a look-alike letter
func confusable(id string) string {
	swaps := map[byte]byte{'0': 'O', '1': 'I', '5': 'S', '8': 'B'}
	b := []byte(id)
	for i := 1; i < len(b); i++ {
		if r, ok := swaps[b[i]]; ok {
			b[i] = r
			return string(b)
		}
	}
	return id
}

// WriteLedger writes rows in the standard ledger layout
func (tg *TicketGenerator) WriteLedger(filename string, rows []*LedgerRow) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"ticket_id", "identifier", "date", "reference", "net_weight"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.TicketID,
			row.Identifier,
			row.Date.Format("2006-01-02"),
			row.Reference,
			row.NetWeight.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WritePages renders the printed tickets in shuffled order, PerPage to a
// page, and returns the number of pages written
func (tg *TicketGenerator) WritePages(rows []*LedgerRow, extra []synth.Ticket) (int, error) {
	var tickets []synth.Ticket
	for _, row := range rows {
		if row.Printed != nil {
			tickets = append(tickets, *row.Printed)
		}
	}
	tickets = append(tickets, extra...)
	tg.rng.Shuffle(len(tickets), func(i, j int) { tickets[i], tickets[j] = tickets[j], tickets[i] })

	// A4 portrait at the requested resolution
	w := tg.DPI * 827 / 100
	h := tg.DPI * 1169 / 100

	pages := 0
	for i := 0; i < len(tickets); i += tg.PerPage {
		end := min(i+tg.PerPage, len(tickets))
		page := synth.RenderPage(w, h, tickets[i:end]...)
		name := filepath.Join(tg.OutputDir, "pages", fmt.Sprintf("page-%03d.png", pages+1))
		if err := writePNG(name, page, tg.DPI); err != nil {
			return pages, err
		}
		pages++
	}
	return pages, nil
}

// writePNG encodes img and records dpi in a pHYs chunk
func writePNG(filename string, img image.Image, dpi int) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	data := buf.Bytes()

	ppm := uint32(float64(dpi)/0.0254 + 0.5)
	body := make([]byte, 9)
	binary.BigEndian.PutUint32(body[0:], ppm)
	binary.BigEndian.PutUint32(body[4:], ppm)
	body[8] = 1 // metre

	typed := append([]byte("pHYs"), body...)
	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	chunk = append(chunk, typed...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(typed))

	// Signature and IHDR come first
	ihdrEnd := 8 + 4 + 4 + 13 + 4
	out := append([]byte{}, data[:ihdrEnd]...)
	out = append(out, chunk...)
	out = append(out, data[ihdrEnd:]...)

	return os.WriteFile(filename, out, 0644)
}
