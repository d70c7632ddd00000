package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

// ExampleNewSQLStore demonstrates creating and migrating an in-memory store.
func ExampleNewSQLStore() {
	store, err := stores.NewSQLStore(stores.Config{
		Driver: stores.DriverSQLite,
		DSN:    ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLStore_GetLoadBalancer shows how a missing row is reported.
func ExampleSQLStore_GetLoadBalancer() {
	store, _ := stores.NewSQLStore(stores.Config{DSN: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	_ = store.CreateLoadBalancer(ctx, &models.LoadBalancer{
		ID:                 "lb-1",
		ProjectID:          "project-1",
		ProvisioningStatus: models.ProvisioningPendingUpdate,
		OperatingStatus:    models.OperatingOnline,
	})

	lb, _ := store.GetLoadBalancer(ctx, "lb-1")
	fmt.Println(lb.ProvisioningStatus, lb.Topology)

	_, err := store.GetLoadBalancer(ctx, "lb-2")
	fmt.Println(stores.IsNotFound(err))
	// Output:
	// PENDING_UPDATE SINGLE
	// true
}
