package shopping

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealboard/internal/apperr"
)

// Notifier is told about every committed change to the list.
type Notifier interface {
	NotifyShoppingListChanged(ctx context.Context)
}

// Service manages the shopping list. Mutations are committed before live clients are notified.
type Service struct {
	store    Store
	notifier Notifier
	sorter   Sorter
	language string
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service. sorter may be nil, in which case Sort keeps the current order.
func NewService(store Store, notifier Notifier, sorter Sorter, language string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		notifier: notifier,
		sorter:   sorter,
		language: language,
		logger:   logger.Named("shopping"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) changed(ctx context.Context) {
	if s.notifier != nil {
		s.notifier.NotifyShoppingListChanged(context.WithoutCancel(ctx))
	}
}

// Get returns the live list.
func (s *Service) Get(ctx context.Context) (*List, error) {
	return s.store.Load(ctx)
}

// AddItem appends an item to the end of the list.
func (s *Service) AddItem(ctx context.Context, name string) (Item, error) {
	items, err := s.addItems(ctx, []string{name})
	if err != nil {
		return Item{}, err
	}
	return items[0], nil
}

// AddItems appends several items in one transaction. Blank names are skipped.
func (s *Service) AddItems(ctx context.Context, names []string) ([]Item, error) {
	return s.addItems(ctx, names)
}

func (s *Service) addItems(ctx context.Context, names []string) ([]Item, error) {
	var clean []string
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			clean = append(clean, name)
		}
	}
	if len(clean) == 0 {
		return nil, apperr.InvalidInput("Item name is required")
	}

	var added []Item
	err := s.store.Update(ctx, func(tx *Tx) error {
		next := tx.List.nextSortOrder()
		now := s.now()
		for i, name := range clean {
			it := Item{ID: s.newID(), Name: name, SortOrder: next + i, CreatedAt: now}
			tx.List.Items = append(tx.List.Items, it)
			added = append(added, it)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx)
	return added, nil
}

// IngredientSource extracts ingredient lines from a recipe page.
type IngredientSource interface {
	ExtractIngredients(ctx context.Context, url string) ([]string, error)
}

// Import adds the ingredients of the recipe at url as items, in one transaction.
func (s *Service) Import(ctx context.Context, src IngredientSource, url string) ([]Item, error) {
	if strings.TrimSpace(url) == "" {
		return nil, apperr.InvalidInput("URL is required")
	}
	ingredients, err := src.ExtractIngredients(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(ingredients) == 0 {
		return nil, apperr.NotFound("No ingredients found")
	}
	added, err := s.addItems(ctx, ingredients)
	if err != nil {
		return nil, err
	}
	s.logger.Info("imported recipe ingredients", zap.String("url", url), zap.Int("count", len(added)))
	return added, nil
}

// ToggleItem flips the checked state of an item.
func (s *Service) ToggleItem(ctx context.Context, id string) (Item, error) {
	var item Item
	err := s.store.Update(ctx, func(tx *Tx) error {
		i := tx.List.indexOf(id)
		if i < 0 {
			return apperr.NotFound("Item not found")
		}
		tx.List.Items[i].Checked = !tx.List.Items[i].Checked
		item = tx.List.Items[i]
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.changed(ctx)
	return item, nil
}

// DeleteItem removes an item.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	err := s.store.Update(ctx, func(tx *Tx) error {
		i := tx.List.indexOf(id)
		if i < 0 {
			return apperr.NotFound("Item not found")
		}
		tx.List.Items = append(tx.List.Items[:i:i], tx.List.Items[i+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

// Reorder puts the listed items first, in the given order. Items not listed keep their relative
// order after them.
func (s *Service) Reorder(ctx context.Context, ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperr.InvalidInput("Duplicate item id %s", id)
		}
		seen[id] = true
	}

	err := s.store.Update(ctx, func(tx *Tx) error {
		for _, id := range ids {
			if tx.List.indexOf(id) < 0 {
				return apperr.NotFound("Item not found")
			}
		}
		tx.List.applyOrder(ids)
		return nil
	})
	if err != nil {
		return err
	}
	s.changed(ctx)
	return nil
}

// Archive stores a copy of a non-empty list in the history, then empties the list and restarts
// its epoch.
func (s *Service) Archive(ctx context.Context) (*List, error) {
	var archived int
	err := s.store.Update(ctx, func(tx *Tx) error {
		list := tx.List
		if len(list.Items) > 0 {
			tx.Archive(ArchivedList{
				ID:        s.newID(),
				Items:     append([]Item{}, list.Items...),
				CreatedAt: list.CreatedAt,
			})
			archived = len(list.Items)
		}
		list.Items = []Item{}
		list.CreatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("shopping list archived", zap.Int("items", archived))
	s.changed(ctx)
	return s.store.Load(ctx)
}

// History returns archived lists, newest first.
func (s *Service) History(ctx context.Context) ([]ArchivedList, error) {
	return s.store.ListArchived(ctx)
}

// DeleteArchived removes one archived list.
func (s *Service) DeleteArchived(ctx context.Context, id string) error {
	return s.store.DeleteArchived(ctx, id)
}

// Sort asks the sorter for a store-walking order. Any sorter failure or a result that is not a
// permutation of the current names leaves the order unchanged; Sort itself only fails when the
// store does.
func (s *Service) Sort(ctx context.Context) (*List, error) {
	list, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(list.Items) <= 1 {
		return list, nil
	}
	if s.sorter == nil {
		s.logger.Warn("no AI sorter configured, keeping current order")
		return list, nil
	}

	names := make([]string, len(list.Items))
	for i, it := range list.Items {
		names[i] = it.Name
	}

	prompt, err := s.sortingPrompt(ctx)
	if err != nil {
		return nil, err
	}

	sorted, err := s.sorter.Sort(ctx, names, prompt)
	if err != nil {
		s.logger.Warn("AI sort failed, keeping current order", zap.Error(err))
		return list, nil
	}
	if !sameItems(names, sorted) {
		s.logger.Warn("AI sort returned a different set of items, keeping current order",
			zap.Int("expected", len(names)), zap.Int("got", len(sorted)))
		return list, nil
	}

	ids := orderIDs(list.Items, sorted)
	err = s.store.Update(ctx, func(tx *Tx) error {
		var present []string
		for _, id := range ids {
			if tx.List.indexOf(id) >= 0 {
				present = append(present, id)
			}
		}
		tx.List.applyOrder(present)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx)
	return s.store.Load(ctx)
}

// orderIDs maps sorted names back to item ids. Duplicate names are consumed in list order.
func orderIDs(items []Item, sorted []string) []string {
	byName := make(map[string][]string, len(items))
	for _, it := range items {
		key := strings.ToLower(it.Name)
		byName[key] = append(byName[key], it.ID)
	}
	ids := make([]string, 0, len(sorted))
	for _, name := range sorted {
		key := strings.ToLower(name)
		if queue := byName[key]; len(queue) > 0 {
			ids = append(ids, queue[0])
			byName[key] = queue[1:]
		}
	}
	return ids
}

func (s *Service) sortingPrompt(ctx context.Context) (string, error) {
	custom, err := s.store.SortingPrompt(ctx)
	if err != nil {
		return "", err
	}
	if custom != nil {
		return *custom, nil
	}
	return s.DefaultSortingPrompt(), nil
}

// Config returns the list preferences.
func (s *Service) Config(ctx context.Context) (Config, error) {
	prompt, err := s.store.SortingPrompt(ctx)
	if err != nil {
		return Config{}, err
	}
	return Config{SortingPrompt: prompt}, nil
}

// UpdateSortingPrompt stores a custom prompt; nil restores the default.
func (s *Service) UpdateSortingPrompt(ctx context.Context, prompt *string) error {
	if prompt != nil && strings.TrimSpace(*prompt) == "" {
		return apperr.InvalidInput("sortingPrompt must be null or a non-empty string")
	}
	return s.store.SetSortingPrompt(ctx, prompt)
}

// DefaultSortingPrompt returns the built-in prompt for the configured language.
func (s *Service) DefaultSortingPrompt() string {
	return DefaultSortingPrompt(s.language)
}
