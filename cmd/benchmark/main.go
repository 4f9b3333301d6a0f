// Benchmark tool for testing Harrier against labeled invoice data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/invoices.csv -url http://localhost:8080
//
// This tool:
//   1. Reads invoice data with known leakage labels
//   2. Sends the invoices to Harrier in batches for analysis
//   3. Compares Harrier's classification with the actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns: invoice_id, customer_id, salesperson_id, region,
// payment_method, invoice_date, due_date, payment_date, amount_billed,
// discount, amount_received, expected_leakage_type. payment_date may be
// empty for unpaid invoices; expected_leakage_type uses the engine's type
// names ("None", "Duplicate", "MissingPayment", ...).
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledInvoice represents a row from the benchmark dataset.
type LabeledInvoice struct {
	InvoiceID      string
	CustomerID     string
	SalespersonID  string
	Region         string
	PaymentMethod  string
	InvoiceDate    string
	DueDate        string
	PaymentDate    string
	AmountBilled   string
	Discount       string
	AmountReceived string

	ExpectedType string
}

// AnalyzeRequest is the Harrier API request format.
type AnalyzeRequest struct {
	Transactions []InvoiceRecord `json:"transactions"`
}

// InvoiceRecord is one invoice in the request batch.
type InvoiceRecord struct {
	InvoiceID      string `json:"invoiceId"`
	CustomerID     string `json:"customerId"`
	SalespersonID  string `json:"salespersonId,omitempty"`
	Region         string `json:"region,omitempty"`
	PaymentMethod  string `json:"paymentMethod,omitempty"`
	InvoiceDate    string `json:"invoiceDate"`
	DueDate        string `json:"dueDate"`
	PaymentDate    string `json:"paymentDate,omitempty"`
	AmountBilled   string `json:"amountBilled"`
	Discount       string `json:"discount"`
	AmountReceived string `json:"amountReceived"`
}

// AnalyzeResponse holds the slice of the report the benchmark reads.
type AnalyzeResponse struct {
	ID           string `json:"id"`
	Transactions []struct {
		InvoiceID   string `json:"invoiceId"`
		LeakageType string `json:"leakageType"`
		IsLeaked    bool   `json:"isLeaked"`
	} `json:"transactions"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Leaked invoices classified as leaked
	FalsePositives int64 // Clean invoices classified as leaked
	TrueNegatives  int64 // Clean invoices classified as clean
	FalseNegatives int64 // Leaked invoices classified as clean (missed leakage!)

	TypeMatches    int64 // Exact leakage type agreement
	TypeMismatches int64

	TotalProcessed int64
	TotalLeaked    int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled invoice CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum invoices to process (0 = all)")
	batchSize := flag.Int("batch", 500, "Invoices per analysis batch")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each mismatched invoice")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/invoices.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         HARRIER BENCHMARK - Leakage Classification            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Harrier URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	// Check Harrier is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  cd harrier && go run cmd/harrier/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Harrier is healthy")

	// Read labeled data
	fmt.Printf("\nReading invoices from %s...\n", *csvPath)
	invoices, err := readLabeledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d invoices\n", len(invoices))

	// Count leaked vs clean by label
	leakedCount := 0
	for _, inv := range invoices {
		if labelIsLeaked(inv.ExpectedType) {
			leakedCount++
		}
	}
	fmt.Printf("  - Leaked: %d (%.2f%%)\n", leakedCount, 100*float64(leakedCount)/float64(len(invoices)))
	fmt.Printf("  - Clean:  %d (%.2f%%)\n", len(invoices)-leakedCount, 100*float64(len(invoices)-leakedCount)/float64(len(invoices)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(invoices, *baseURL, *tenantID, *batchSize, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

// labelIsLeaked mirrors the engine's leakage semantics: everything except
// None and Delayed is revenue loss.
func labelIsLeaked(leakageType string) bool {
	return leakageType != "None" && leakageType != "Delayed"
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int) ([]LabeledInvoice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	get := func(record []string, col string) string {
		idx, ok := colIndex[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var invoices []LabeledInvoice

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		inv := LabeledInvoice{
			InvoiceID:      get(record, "invoice_id"),
			CustomerID:     get(record, "customer_id"),
			SalespersonID:  get(record, "salesperson_id"),
			Region:         get(record, "region"),
			PaymentMethod:  get(record, "payment_method"),
			InvoiceDate:    get(record, "invoice_date"),
			DueDate:        get(record, "due_date"),
			PaymentDate:    get(record, "payment_date"),
			AmountBilled:   get(record, "amount_billed"),
			Discount:       get(record, "discount"),
			AmountReceived: get(record, "amount_received"),
			ExpectedType:   get(record, "expected_leakage_type"),
		}

		if inv.InvoiceID == "" {
			continue
		}

		invoices = append(invoices, inv)

		if limit > 0 && len(invoices) >= limit {
			break
		}
	}

	return invoices, nil
}

func runBenchmark(invoices []LabeledInvoice, baseURL, tenantID string, batchSize, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Split into batches; each batch is one analysis run
	var batches [][]LabeledInvoice
	for start := 0; start < len(invoices); start += batchSize {
		end := start + batchSize
		if end > len(invoices) {
			end = len(invoices)
		}
		batches = append(batches, invoices[start:end])
	}

	work := make(chan []LabeledInvoice, numWorkers)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for batch := range work {
				start := time.Now()
				result, err := analyzeBatch(client, baseURL, tenantID, batch)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, int64(len(batch)))
					if verbose {
						fmt.Printf("ERROR: batch of %d -> %v\n", len(batch), err)
					}
					continue
				}

				scoreBatch(metrics, batch, result, verbose)
			}
		}()
	}

	// Send work
	for _, batch := range batches {
		work <- batch
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// scoreBatch compares one report against the batch labels.
func scoreBatch(metrics *Metrics, batch []LabeledInvoice, result *AnalyzeResponse, verbose bool) {
	labels := make(map[string]string, len(batch))
	for _, inv := range batch {
		labels[inv.InvoiceID] = inv.ExpectedType
	}

	for _, tx := range result.Transactions {
		expected, ok := labels[tx.InvoiceID]
		if !ok {
			continue
		}

		atomic.AddInt64(&metrics.TotalProcessed, 1)

		actual := labelIsLeaked(expected)
		if actual {
			atomic.AddInt64(&metrics.TotalLeaked, 1)
		} else {
			atomic.AddInt64(&metrics.TotalClean, 1)
		}

		// Confusion matrix on the leaked/clean verdict
		predicted := tx.IsLeaked
		if predicted && actual {
			atomic.AddInt64(&metrics.TruePositives, 1)
		} else if predicted && !actual {
			atomic.AddInt64(&metrics.FalsePositives, 1)
		} else if !predicted && !actual {
			atomic.AddInt64(&metrics.TrueNegatives, 1)
		} else { // !predicted && actual
			atomic.AddInt64(&metrics.FalseNegatives, 1)
		}

		// Exact type agreement
		if tx.LeakageType == expected {
			atomic.AddInt64(&metrics.TypeMatches, 1)
		} else {
			atomic.AddInt64(&metrics.TypeMismatches, 1)
			if verbose {
				fmt.Printf("✗ %-12s | expected: %-14s | got: %-14s\n",
					tx.InvoiceID, expected, tx.LeakageType)
			}
		}
	}
}

func analyzeBatch(client *http.Client, baseURL, tenantID string, batch []LabeledInvoice) (*AnalyzeResponse, error) {
	req := AnalyzeRequest{Transactions: make([]InvoiceRecord, 0, len(batch))}
	for _, inv := range batch {
		req.Transactions = append(req.Transactions, InvoiceRecord{
			InvoiceID:      inv.InvoiceID,
			CustomerID:     inv.CustomerID,
			SalespersonID:  inv.SalespersonID,
			Region:         inv.Region,
			PaymentMethod:  inv.PaymentMethod,
			InvoiceDate:    inv.InvoiceDate,
			DueDate:        inv.DueDate,
			PaymentDate:    inv.PaymentDate,
			AmountBilled:   orZero(inv.AmountBilled),
			Discount:       orZero(inv.Discount),
			AmountReceived: orZero(inv.AmountReceived),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Leaked:     %d\n", m.TotalLeaked)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX (leaked / clean verdict)\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Leaked       Clean")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  L  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	typeAccuracy := float64(0)
	if m.TypeMatches+m.TypeMismatches > 0 {
		typeAccuracy = float64(m.TypeMatches) / float64(m.TypeMatches+m.TypeMismatches)
	}

	fmt.Printf("\n🎯 CLASSIFICATION METRICS\n")
	fmt.Printf("   Precision:     %.4f  (of leaked verdicts, how many were truly leaked)\n", precision)
	fmt.Printf("   Recall:        %.4f  (of leaked invoices, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:      %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:      %.4f  (overall correct verdicts)\n", accuracy)
	fmt.Printf("   Type Accuracy: %.4f  (exact leakage type agreement)\n", typeAccuracy)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f invoices/sec\n", tps)
	}

	fmt.Println()
}
