package task

import (
	"cmp"
	"strings"

	"lifecal/internal/model"
)

// comparator builds the ordering for a sort key. ASC uses the key's
// natural order, DESC inverts it. Missing due dates and operation ids sort
// last either way, and ties always fall back to id ascending.
func comparator(by SortBy, order SortOrder) func(a, b model.Task) int {
	natural, nilOrder := naturalOrder(by)
	return func(a, b model.Task) int {
		if c := nilOrder(a, b); c != 0 {
			return c
		}
		c := natural(a, b)
		if order == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	}
}

func noNils(model.Task, model.Task) int { return 0 }

func naturalOrder(by SortBy) (natural, nils func(a, b model.Task) int) {
	switch by {
	case SortUpdatedAt:
		return func(a, b model.Task) int { return a.UpdatedAt.Compare(b.UpdatedAt) }, noNils
	case SortDueDate:
		return func(a, b model.Task) int {
				if a.DueDate == nil || b.DueDate == nil {
					return 0
				}
				return a.DueDate.Compare(*b.DueDate)
			}, func(a, b model.Task) int {
				return nilsLast(a.DueDate == nil, b.DueDate == nil)
			}
	case SortPriority:
		// HIGH before MEDIUM before LOW.
		return func(a, b model.Task) int { return cmp.Compare(b.Priority.Weight(), a.Priority.Weight()) }, noNils
	case SortTitle:
		return func(a, b model.Task) int {
			return cmp.Or(
				strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)),
				strings.Compare(a.Title, b.Title),
			)
		}, noNils
	case SortStatus:
		return func(a, b model.Task) int { return cmp.Compare(a.Status.Rank(), b.Status.Rank()) }, noNils
	case SortOperation:
		return func(a, b model.Task) int {
				return strings.Compare(model.Deref(a.OperationID), model.Deref(b.OperationID))
			}, func(a, b model.Task) int {
				return nilsLast(a.OperationID == nil, b.OperationID == nil)
			}
	default:
		return func(a, b model.Task) int { return a.CreatedAt.Compare(b.CreatedAt) }, noNils
	}
}

func nilsLast(aNil, bNil bool) int {
	switch {
	case aNil == bNil:
		return 0
	case aNil:
		return 1
	default:
		return -1
	}
}
