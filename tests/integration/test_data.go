package integration

import (
	"fmt"
	"sync/atomic"
	"time"
)

var userSeq atomic.Int64

// TestAccount generates unique institutional credentials per call
func TestAccount(suffix string) (email, name, password string) {
	n := userSeq.Add(1)
	email = fmt.Sprintf("it-%d-%d-%s@o365.ttu.edu.tw", time.Now().Unix(), n, suffix)
	name = "Integration " + suffix
	password = "TestPassword123!"
	return
}
