package purchasekit

import (
	"sync"
	"testing"
)

func TestBeginRejectsDuplicatePurchase(t *testing.T) {
	purchases := NewInFlightPurchases(nil)

	if err := purchases.Begin("sub_1", func(*CustomerInfo, error) {}); err != nil {
		t.Fatalf("first begin failed: %v", err)
	}

	err := purchases.Begin("sub_1", func(*CustomerInfo, error) {})
	if err == nil {
		t.Fatal("expected duplicate begin to fail")
	}
	if AsBackendError(err).Code != ErrCodePurchaseInProgress {
		t.Errorf("expected %s, got %s", ErrCodePurchaseInProgress, AsBackendError(err).Code)
	}
}

func TestBeginAllowsDistinctProducts(t *testing.T) {
	purchases := NewInFlightPurchases(nil)

	if err := purchases.Begin("sub_1", func(*CustomerInfo, error) {}); err != nil {
		t.Fatalf("begin sub_1 failed: %v", err)
	}
	if err := purchases.Begin("sub_2", func(*CustomerInfo, error) {}); err != nil {
		t.Fatalf("begin sub_2 failed: %v", err)
	}
}

func TestCompleteInvokesAndClearsCompletion(t *testing.T) {
	purchases := NewInFlightPurchases(nil)

	var gotInfo *CustomerInfo
	var gotErr error
	purchases.Begin("sub_1", func(info *CustomerInfo, err error) {
		gotInfo = info
		gotErr = err
	})

	info := &CustomerInfo{AppUserID: testUserID}
	purchases.Complete("sub_1", info, nil)

	if gotInfo != info {
		t.Error("expected completion invoked with the posted customer info")
	}
	if gotErr != nil {
		t.Errorf("unexpected completion error: %v", gotErr)
	}
	if purchases.InProgress("sub_1") {
		t.Error("expected purchase cleared after completion")
	}

	// The product can be purchased again now.
	if err := purchases.Begin("sub_1", func(*CustomerInfo, error) {}); err != nil {
		t.Errorf("expected begin to succeed after completion, got %v", err)
	}
}

func TestCompleteWithoutRegistrationIsNoOp(t *testing.T) {
	purchases := NewInFlightPurchases(nil)
	purchases.Complete("never_begun", nil, nil)
}

func TestInProgressReflectsState(t *testing.T) {
	purchases := NewInFlightPurchases(nil)

	if purchases.InProgress("sub_1") {
		t.Error("expected no purchase in flight initially")
	}
	purchases.Begin("sub_1", func(*CustomerInfo, error) {})
	if !purchases.InProgress("sub_1") {
		t.Error("expected purchase in flight after begin")
	}
}

func TestBeginIsSafeUnderConcurrentCalls(t *testing.T) {
	purchases := NewInFlightPurchases(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := purchases.Begin("sub_1", func(*CustomerInfo, error) {}); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("expected exactly one accepted begin, got %d", accepted)
	}
}
