package config

import "time"

// Default values for configuration.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultRelevanceThreshold = 0.6
	DefaultBanThreshold       = 3

	DefaultSessionTimeout = 20 * time.Minute
	DefaultCacheCooldown  = 5 * time.Minute

	DefaultBaseDir      = "./data"
	DefaultDatabaseName = "aulabot.db"
	DefaultArchiveMedia = true

	DefaultExportPartitionSize = 10000

	DefaultGeminiModel             = "gemini-2.0-flash"
	DefaultGeminiTemperature       = 0.4
	DefaultGeminiMaxRetries        = 2
	DefaultGeminiRetryDelaySeconds = 2
	DefaultGeminiInstruction       = "Eres un profesor que responde dudas de alumnos en un grupo de Telegram. " +
		"Responde en español, de forma breve y precisa, sólo sobre la materia de la asignatura."

	DefaultSQLMaintenanceSchedule = "0 0 4 * * *"
	DefaultSessionSweepSchedule   = "0 * * * * *"
)

// DefaultMessages holds the default user-facing notices.
var DefaultMessages = MessagesConfig{
	// %s: user first name
	StudentWelcome:       "Hola %s, te doy la bienvenida. Pregúntame tus dudas en tu grupo escribiendo \"profe\" seguido de la pregunta.",
	InstructorRegistered: "Te has registrado como docente.",
	GeneralError:         "Algo salió mal. Vuelve a empezar con /start.",
	SessionExpired:       "La sesión ha caducado por inactividad.",
	// %s: full name, %d: user id
	ScoldGreeting: "Perdona [%s](tg://user?id=%d)",
	ScoldRule:     "En este grupo sólo se permite tratar *temas relacionados con la asignatura*",
	ScoldDetail:   "He detectado un mensaje tuyo que no tiene que ver con la asignatura, por lo que te ruego que no mandes ese tipo de mensajes",
	// %d: warning number
	ScoldWarning: " *%dº aviso* ",
	// %s: full name, %d: user id
	BanGreeting: "Bien [%s](tg://user?id=%d)",
	BanNotice:   "En vista de que no quieres acatar las reglas de uso de este grupo, tengo que *expulsarte*",
	// %s: user full name, %s: group title
	GroupWelcome: "Hola %s, te damos la bienvenida a %s",
	GroupHint:    "Tómate la libertad de preguntar tus dudas escribiendo \"profe\" o \"profesor\" seguido de tu pregunta, o con el comando /ask",
	GroupExample: "e.g. \"profe, ¿Cómo se declara una cadena?\"",
	// %s: bot first name, %s: bot username
	BotJoined:     "Bienvenid@s, soy %s (@%s) vuestro bot y profesor en este grupo",
	BotNeedsAdmin: "Necesito ser administrador de este grupo para poder moderarlo",
	// %s: user first name
	AnswerWait:     "Un momento %s",
	AnswerFound:    "Bien %s",
	AnswerNotFound: "Lo siento, no puedo responder a tu pregunta",
	// %s: originator full name
	AnnouncementPreamble: "*Comunicado de %s*",
	// %s: group title, %s: invite link
	ReadmitInvite: "Has sido readmitid@ en el grupo %s. Puedes volver a entrar con este enlace: %s",
	// %s: group title
	ExportCaption: "Conversaciones de %s",
}

// DefaultTasks holds the recurring task schedules (cron with seconds).
var DefaultTasks = map[string]TaskConfig{
	"sql_maintenance": {Enabled: true, Schedule: DefaultSQLMaintenanceSchedule},
	"session_sweep":   {Enabled: true, Schedule: DefaultSessionSweepSchedule},
}
