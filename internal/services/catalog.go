package rewards

import (
	"context"
	"fmt"
	"sort"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
)

const rewardImage = "https://images.unsplash.com/photo-1550317138-10000687a72b?q=80&w=1200&auto=format&fit=crop"

// Каталог по умолчанию
func DefaultCatalog() []model.RewardCatalogEntry {
	return []model.RewardCatalogEntry{
		{ID: "burger", Title: "Burger Offert", Subtitle: "Pain brioché, steak 150g, cheddar", PointsCost: 80, ImageRef: rewardImage},
		{ID: "tacos", Title: "Tacos Offert", Subtitle: "Généreux, sauce fromagère maison", PointsCost: 100, ImageRef: rewardImage},
		{ID: "tiramisu", Title: "Tiramisu Offert", Subtitle: "Classique cacao • Portion généreuse", PointsCost: 40, ImageRef: rewardImage},
		{ID: "boisson", Title: "Boisson Offerte", Subtitle: "Soft 33cl au choix", PointsCost: 20, ImageRef: rewardImage},
	}
}

// Каталог в памяти, только чтение
type StaticCatalog struct {
	byID    map[string]model.RewardCatalogEntry
	entries []model.RewardCatalogEntry
}

var _ interf.RewardCatalog = (*StaticCatalog)(nil)

// записи с PointsCost <= 0 или без ID отбрасываются
func NewStaticCatalog(entries []model.RewardCatalogEntry) *StaticCatalog {
	c := &StaticCatalog{byID: make(map[string]model.RewardCatalogEntry)}
	for _, e := range entries {
		if e.ID == "" || e.PointsCost <= 0 {
			continue
		}
		if _, dup := c.byID[e.ID]; dup {
			continue
		}
		c.byID[e.ID] = e
		c.entries = append(c.entries, e)
	}
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].PointsCost < c.entries[j].PointsCost
	})
	return c
}

func (c *StaticCatalog) Get(_ context.Context, rewardID string) (model.RewardCatalogEntry, error) {
	e, ok := c.byID[rewardID]
	if !ok {
		return model.RewardCatalogEntry{}, fmt.Errorf("reward %s: %w", rewardID, model.ErrUnknownReward)
	}
	return e, nil
}

func (c *StaticCatalog) List(_ context.Context) ([]model.RewardCatalogEntry, error) {
	res := make([]model.RewardCatalogEntry, len(c.entries))
	copy(res, c.entries)
	return res, nil
}

// каталог наград
func (s *RewardsService) ListRewards(ctx context.Context) ([]model.RewardCatalogEntry, error) {
	return s.catalog.List(ctx)
}
