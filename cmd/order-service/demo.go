package main

import (
	"github.com/nazeru/medstore-orders-go/internal/catalog"
	"github.com/nazeru/medstore-orders-go/internal/storage/memory"
)

// seedDemoCatalog fills the in-memory store so STORAGE=memory is usable
// without a database. Prices are in minor units.
func seedDemoCatalog(mem *memory.Store) {
	for _, p := range []catalog.Product{
		{ID: "bp-monitor", Name: "Digital blood pressure monitor", Price: 4500, Stock: 25, IsActive: true},
		{ID: "stethoscope", Name: "Dual-head stethoscope", Price: 1200, Stock: 40, IsActive: true},
		{ID: "pulse-oximeter", Name: "Fingertip pulse oximeter", Price: 2300, Stock: 60, IsActive: true},
		{ID: "nebulizer", Name: "Compressor nebulizer", Price: 3900, Stock: 15, IsActive: true},
		{ID: "wheelchair", Name: "Folding wheelchair", Price: 18900, Stock: 1, IsActive: true},
		{ID: "thermometer-ir", Name: "Infrared thermometer", Price: 1500, Stock: 0, IsActive: false},
	} {
		mem.PutProduct(p)
	}
}
