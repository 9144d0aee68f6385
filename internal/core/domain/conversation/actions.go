// internal/core/domain/conversation/actions.go
package conversation

// ActionKind - тип исходящего действия
type ActionKind int

const (
	// ActionSendText - отправить текст, возможно с кнопками
	ActionSendText ActionKind = iota
	// ActionSendPhotoURL - отправить фото по URL (QR-код счета)
	ActionSendPhotoURL
	// ActionRunOCR - запустить асинхронное распознавание квитанции
	ActionRunOCR
	// ActionSubmitOrder - отправить собранную заявку на бэкенд
	ActionSubmitOrder
	// ActionClearSession - удалить сессию из хранилища
	ActionClearSession
)

// Button - кнопка inline-клавиатуры, без привязки к транспорту
type Button struct {
	Text string
	Data string
}

// Action - исходящее действие. Машина возвращает действия,
// диспетчер их исполняет.
type Action struct {
	Kind ActionKind

	Text     string
	Buttons  [][]Button
	PhotoURL string

	// Для ActionRunOCR: файл и штамп поколения сессии на момент запуска
	FileID     string
	Generation uint64
}

func sendText(text string, buttons ...[]Button) Action {
	return Action{Kind: ActionSendText, Text: text, Buttons: buttons}
}

func row(buttons ...Button) []Button {
	return buttons
}
