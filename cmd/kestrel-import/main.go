// Dataset importer for Kestrel.
//
// Usage:
//   go run cmd/kestrel-import/main.go -csv /path/to/creditcard.csv
//
// Reads the anonymized card-transaction dataset (Time, V1..V28, Amount,
// Class) and loads it into the Kestrel transaction store in batches, so
// the training pipeline has labeled history to learn from.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const defaultBatchSize = 100

func main() {
	_ = godotenv.Load()

	csvPath := flag.String("csv", "", "Path to the transaction CSV file")
	limit := flag.Int("limit", 0, "Maximum rows to import (0 = all)")
	batchSize := flag.Int("batch", defaultBatchSize, "Rows per insert batch")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *csvPath == "" {
		fmt.Println("Usage: kestrel-import -csv /path/to/creditcard.csv [-limit N] [-batch N]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
	}

	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()
	start := time.Now()

	total, fraud, err := importCSV(ctx, repo, *csvPath, *limit, *batchSize)
	if err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}

	slog.Info("import complete",
		"rows", total,
		"fraud", fraud,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

func importCSV(ctx context.Context, repo domain.Repository, path string, limit, batchSize int) (total, fraud int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, required := range []string{"time", "amount", "class"} {
		if _, ok := colIndex[required]; !ok {
			return 0, 0, fmt.Errorf("missing column %q in %s", required, path)
		}
	}

	// Dataset timestamps are second offsets from the first transaction.
	base := time.Now().UTC().Add(-48 * time.Hour)

	batch := make([]*domain.Transaction, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := repo.SaveTransactions(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		record, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			slog.Warn("skipping malformed row", "error", readErr)
			continue
		}

		tx, parseErr := parseRow(record, colIndex, base)
		if parseErr != nil {
			slog.Warn("skipping unparsable row", "error", parseErr)
			continue
		}

		batch = append(batch, tx)
		total++
		if *tx.Label == domain.LabelFraud {
			fraud++
		}

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, fraud, err
			}
		}
		if limit > 0 && total >= limit {
			break
		}
	}

	if err := flush(); err != nil {
		return total, fraud, err
	}

	return total, fraud, nil
}

func parseRow(record []string, colIndex map[string]int, base time.Time) (*domain.Transaction, error) {
	offset, err := strconv.ParseFloat(record[colIndex["time"]], 64)
	if err != nil {
		return nil, fmt.Errorf("bad time value: %w", err)
	}
	amount, err := strconv.ParseFloat(record[colIndex["amount"]], 64)
	if err != nil {
		return nil, fmt.Errorf("bad amount value: %w", err)
	}
	label, err := strconv.Atoi(record[colIndex["class"]])
	if err != nil {
		return nil, fmt.Errorf("bad class value: %w", err)
	}
	if label != domain.LabelLegit && label != domain.LabelFraud {
		return nil, fmt.Errorf("unknown class %d", label)
	}

	tx := &domain.Transaction{
		ID:        uuid.New().String(),
		Timestamp: base.Add(time.Duration(offset) * time.Second),
		Amount:    amount,
		Label:     &label,
	}

	for i := 0; i < domain.FeatureCount; i++ {
		col, ok := colIndex[fmt.Sprintf("v%d", i+1)]
		if !ok {
			return nil, fmt.Errorf("missing feature column v%d", i+1)
		}
		v, err := strconv.ParseFloat(record[col], 64)
		if err != nil {
			return nil, fmt.Errorf("bad v%d value: %w", i+1, err)
		}
		tx.Features[i] = v
	}

	return tx, nil
}
