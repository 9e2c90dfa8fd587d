package main

import (
	"log"
	"os"

	parquet "github.com/parquet-go/parquet-go"
	"github.com/razeghi71/dqflow/loader"
)

type Sale struct {
	Region string  `parquet:"region"`
	Store  string  `parquet:"store"`
	Month  int32   `parquet:"month"`
	Amount float64 `parquet:"amount"`
}

func main() {
	f, err := os.Create("testdata/sales.parquet")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	w := parquet.NewWriter(f)

	sales := []Sale{
		{"north", "n1", 1, 120},
		{"north", "n1", 2, 80.5},
		{"north", "n2", 1, 200},
		{"south", "s1", 1, 45},
		{"south", "s1", 2, 0},
		{"south", "s2", 1, 310.25},
		{"east", "e1", 1, 99},
		{"east", "e1", 2, 101},
	}

	for _, s := range sales {
		if err := w.Write(s); err != nil {
			log.Fatal(err)
		}
	}

	if err := w.Close(); err != nil {
		log.Fatal(err)
	}
	if err := f.Sync(); err != nil {
		log.Fatal(err)
	}

	// The same rows as Avro, produced through the loader.
	t, err := loader.Load("testdata/sales.parquet")
	if err != nil {
		log.Fatal(err)
	}
	if err := loader.Save("testdata/sales.avro", t); err != nil {
		log.Fatal(err)
	}
}
