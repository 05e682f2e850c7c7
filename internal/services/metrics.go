package rewards

import (
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_ledger_operations_total",
			Help: "Операции с баллами по результату",
		},
		[]string{"operation", "result"},
	)
	ledgerPoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_ledger_points_total",
			Help: "Начислено и списано баллов",
		},
		[]string{"direction"},
	)
	couponsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_coupons_issued_total",
			Help: "Выпущено купонов по типу",
		},
		[]string{"kind"},
	)
)

func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = model.Kind(err)
	}
	ledgerOperations.WithLabelValues(operation, result).Inc()
}
