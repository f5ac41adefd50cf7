// Пакет lifecycle — таблица решений жизненного цикла контента.
//
// Состояния записи:
//   - absent  — записи нет (не загружена или уже удалена)
//   - live    — может быть выдана
//   - viewed  — одноразовая запись уже выдана, ждёт удаления
//   - expired — TTL истёк, ждёт удаления
//
// Переходы: absent → live (загрузка), live → viewed (первая выдача
// одноразового контента), live → expired (время), viewed/expired → absent
// (удаление при обращении или очистке). Обратных переходов нет.
//
// Пакет чистый: без ввода-вывода, время передаётся явно.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/bigkaa/flashdrop/internal/domain/model"
)

// State — состояние записи в жизненном цикле.
type State string

const (
	StateAbsent  State = "absent"
	StateLive    State = "live"
	StateViewed  State = "viewed"
	StateExpired State = "expired"
)

// Action — действие движка при обращении к записи.
type Action int

const (
	// ActionNotFound — записи нет
	ActionNotFound Action = iota
	// ActionDeleteExpired — удалить запись и ответить «истёк»
	ActionDeleteExpired
	// ActionDeleteViewed — удалить запись и ответить «уже просмотрен»
	ActionDeleteViewed
	// ActionServe — выдать контент (для одноразового — после CAS флага viewed)
	ActionServe
)

// String возвращает имя действия для логов и метрик.
func (a Action) String() string {
	switch a {
	case ActionNotFound:
		return "not_found"
	case ActionDeleteExpired:
		return "expired"
	case ActionDeleteViewed:
		return "already_viewed"
	case ActionServe:
		return "serve"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// validTransitions — матрица допустимых переходов между состояниями.
var validTransitions = map[State]map[State]bool{
	StateAbsent:  {StateLive: true},
	StateLive:    {StateViewed: true, StateExpired: true},
	StateViewed:  {StateAbsent: true},
	StateExpired: {StateAbsent: true},
}

// actions — действие для каждого состояния.
var actions = map[State]Action{
	StateAbsent:  ActionNotFound,
	StateLive:    ActionServe,
	StateViewed:  ActionDeleteViewed,
	StateExpired: ActionDeleteExpired,
}

// StateOf определяет состояние записи на момент now.
// Истечение TTL проверяется раньше флага viewed: запись, которая
// одновременно просмотрена и истекла, считается истёкшей.
func StateOf(c *model.Content, now time.Time) State {
	switch {
	case c == nil:
		return StateAbsent
	case c.Expired(now):
		return StateExpired
	case c.Consumed():
		return StateViewed
	default:
		return StateLive
	}
}

// Decide возвращает действие для записи на момент now.
func Decide(c *model.Content, now time.Time) Action {
	return actions[StateOf(c, now)]
}

// SourceState возвращает состояние, для которого движок выбирает действие a.
func SourceState(a Action) State {
	for st, act := range actions {
		if act == a {
			return st
		}
	}
	return StateAbsent
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to State) bool {
	return validTransitions[from][to]
}

// NeedsMark сообщает, что выдача требует атомарной отметки viewed.
func NeedsMark(c *model.Content) bool {
	return c != nil && c.ViewOnce && !c.Viewed
}
