package session

import "time"

// Menu prompts and notices. Format verbs are noted where present.
const (
	TextMenu = "Selecciona la operación que deseas efectuar en el menú"

	TextGroupList = "Estos son los grupos docentes que existen:"
	// %s: group title
	TextGroupDelete = "Ten en cuenta que si borras \"%s\", todos sus alumn@s serán expulsad@s del grupo.\n¿Estás seguro de que deseas borrar este grupo?"
	// %s: group title
	TextGroupDeleteAgain = "¿Estás realmente seguro de que deseas borrar \"%s\"? Esta acción no se puede deshacer"

	// %s: group title
	TextStudentList = "Alumn@s en el grupo docente \"%s\":"
	// %s: student name, %s: group title
	TextBanConfirm = "¿Estás seguro de que deseas banear a %s de \"%s\"?"
	// %s: student name, %s: group title
	TextReadmitConfirm = "¿Estás seguro de que deseas readmitir a %s en \"%s\"?"
	// %s: student name, %s: group title
	TextExpelConfirm = "Ten en cuenta que si expulsas a %s de \"%s\" no podrá volver a entrar.\n¿Estás seguro de que deseas expulsarle?"
	// %s: student name
	TextExpelAgain = "¿Estás realmente segur@ de que deseas expulsar a %s?"

	TextAnnouncementList  = "Estos son los comunicados programados:"
	TextAnnouncementOffer = "No se ha programado ningún comunicado. ¿Quieres programar un *comunicado nuevo*?"
	// %s: delivery moment
	TextAnnouncementDelete = "¿Estás seguro de que deseas *eliminar el comunicado* programado para el %s?"

	// %d: number of collected items
	TextComposeContent = "Ok. Envíame uno a uno cada mensaje, imagen, documento, ubicación... que quieras incluir en el comunicado.\nCuando termines pulsa Aceptar, o Cancelar para anularlo (%d recibidos)"
	TextComposeGroups  = "Selecciona los grupos docentes en los que se publicará el comunicado"
	TextComposeDate    = "Ok. Indícame la fecha en la que se mandará el comunicado.\nPuedes decirme cosas como:\n· Hoy\n· Mañana a las 9\n· El próximo lunes\n· El 12 de octubre\n· 24/12/2026"
	TextComposeTime    = "Ok. Indícame la hora a la que se mandará el comunicado.\nPuedes decirme cosas como:\n· 11:30\n· 9 y media de la noche\n· A mediodía\n· A medianoche\n· Dentro de 5 minutos\n· Dentro de tres horas"

	TextDownloadStartDate = "Ok. Indícame la fecha de inicio a partir de la cual recopilar las conversaciones.\nPuedes decirme cosas como:\n· Ayer\n· El lunes\n· El 1 de septiembre\n· 01/09/2026"
	TextDownloadStartTime = "Ok. Indícame la hora de inicio a partir de la cual recopilar las conversaciones"
	TextDownloadEndDate   = "Ok. Ahora indícame la fecha de fin de la recopilación"
	TextDownloadEndTime   = "Ok. Indícame la hora de fin de la recopilación"
	TextDownloadGroup     = "Por último, pincha en el grupo docente sobre el que recopilar las conversaciones, o pulsa Cancelar para salir"
	// %s: group title, %s: start, %s: end
	TextDownloadConfirm = "Ok. Se realizará una recopilación para \"%s\" desde el %s hasta el %s.\n¿Es correcto?"

	TextUnregisterConfirm = "Si te das de baja, dejarás de tener permisos de profesor/ra.\n¿Estás realmente segur@ de que deseas darte de baja?"
	TextUnregisterAgain   = "¿Estás completamente segur@? Esta acción no se puede deshacer"

	NoticeNoGroups          = "No existe ningún grupo docente"
	NoticeNoStudents        = "No hay alumn@s en este grupo docente"
	NoticeGroupKept         = "Operación cancelada, grupo \"%s\" no eliminado"
	NoticeStudentKept       = "Operación cancelada, alumn@ \"%s\" sin cambios"
	NoticeAnnouncementKept  = "Operación cancelada, comunicado no eliminado"
	NoticeComposeEmpty      = "Aún no me has enviado nada para el comunicado"
	NoticeComposeCancelled  = "Ok. Comunicado anulado. No lo envío"
	NoticeComposeFull       = "El comunicado ya tiene demasiados mensajes, pulsa Aceptar para continuar"
	NoticeNoSelection       = "Selecciona al menos un grupo"
	NoticeNotUnderstood     = "No te he entendido, vuelve a especificármelo de otra forma"
	NoticePastMoment        = "Ese momento ya ha pasado, indícame una hora posterior"
	NoticePastDate          = "Esa fecha ya ha pasado, indícame otro día"
	NoticeBadRange          = "La fecha de inicio debe ser anterior a la de fin. Vuelve a indicarme la fecha de inicio"
	NoticeDownloadCancelled = "Ok. No hago la recopilación"
	NoticeDownloadPostponed = "Ok. En otro momento mejor"
	NoticeUnregisterKept    = "Operación cancelada, no has sido dado de baja"
	NoticeBye               = "Si necesitas cualquier cosa, escríbeme /start"
	NoticeUnsupported       = "Opción \"%s\" no admitida"
	NoticeUnsupportedOption = "Opción no admitida"
	NoticeUseMenu           = "Ayúdate del menú para seleccionar una opción"
)

// Notices sent after executing an effect.
const (
	// %s: group title, %s: invite link
	NoticeInviteLink = "Enlace de invitación a \"%s\": %s"
	// %s: group title
	NoticeGroupDeleted = "Grupo \"%s\" eliminado"
	// %s: group title
	NoticeGroupUnavailable = "Ya no soy administrador de \"%s\", así que el grupo deja de estar disponible"
	// %s: student name, %s: group title
	NoticeStudentBanned = "%s ha sido banead@ de \"%s\""
	// %s: student name, %s: group title
	NoticeStudentReadmitted = "%s ha sido readmitid@ en \"%s\""
	// %s: student name, %s: invite link
	NoticeReadmitLink = "No he podido avisar a %s. Hazle llegar este enlace para que vuelva a entrar: %s"
	// %s: student name, %s: group title
	NoticeStudentExpelled = "%s ha sido expulsad@ de \"%s\""
	// %s: delivery moment
	NoticeAnnouncementScheduled = "Ok. Comunicado programado para el %s"
	NoticeAnnouncementDeleted   = "Comunicado eliminado"
	NoticeAnnouncementGone      = "Ese comunicado ya se ha enviado o no existe"
	NoticeNothingToExport       = "No hay conversaciones que recopilar en ese periodo"
	// %d: message count
	NoticeExportScheduled = "Ok. Recopilando %d mensajes, te los enviaré en cuanto estén listos"
	NoticeUnregistered    = "Te has dado de baja como profesor/ra"
	NoticeActionFailed    = "No he podido completar la operación, inténtalo más tarde"
)

// DisplayTime formats a moment the way prompts show it.
func DisplayTime(t time.Time) string {
	return t.Format(displayLayout)
}

// Button labels.
const (
	ButtonGroups        = "Gestionar grupos docentes 👩‍🏫"
	ButtonCompose       = "Programar comunicado al alumnado ✍️"
	ButtonAnnouncements = "Comunicados 📣"
	ButtonDownload      = "Descargar conversaciones del alumnado 💾"
	ButtonUnregister    = "Dar de baja como profesor/ra 💣"
	ButtonExit          = "Salir 👋"

	ButtonYes     = "Sí ✅"
	ButtonNo      = "No ❌"
	ButtonBack    = "Volver ↩️"
	ButtonAccept  = "Aceptar ✅"
	ButtonCancel  = "Cancelar ❌"
	ButtonSave    = "Guardar 💾"
	ButtonNew     = "Nuevo comunicado ➕"
	ButtonLink    = "Enlace 🔗"
	ButtonManage  = "Gestionar 🔧"
	ButtonDelete  = "Eliminar ❌"
	ButtonRead    = "Leer 📖"
	ButtonRemove  = "Borrar 🗑"
	ButtonBan     = "Banear 🚫"
	ButtonReadmit = "Readmitir ✅"
	ButtonExpel   = "Expulsar ❌"
)

// Callback data.
const (
	DataGroups        = "menu:groups"
	DataCompose       = "menu:compose"
	DataAnnouncements = "menu:announcements"
	DataDownload      = "menu:download"
	DataUnregister    = "menu:unregister"
	DataExit          = "menu:exit"

	DataYes    = "yes"
	DataNo     = "no"
	DataBack   = "back"
	DataAccept = "accept"
	DataCancel = "cancel"
	DataSave   = "save"
	DataNew    = "new"
)

// date layout shown to instructors
const displayLayout = "02/01/2006 15:04"
