package task

import (
	"context"

	"github.com/Likyliang/APIHub-Gateway/internal/payment"
	"github.com/Likyliang/APIHub-Gateway/internal/utils/log"
)

func ExpireOrders() {
	if err := payment.ExpireSweep(context.Background()); err != nil {
		log.Warnf("order expire sweep failed: %v", err)
	}
}
