package session

import (
	"fmt"
	"strconv"

	"github.com/edgard/aulabot/internal/database"
)

// Render returns the prompt shown to the instructor for the current state
// of s. States waiting on a Load render their list from whatever snapshot
// the context holds.
func Render(s Session) Prompt {
	switch s.State {
	case Menu:
		return Prompt{Text: TextMenu, Keyboard: column(
			Button{ButtonGroups, DataGroups},
			Button{ButtonCompose, DataCompose},
			Button{ButtonAnnouncements, DataAnnouncements},
			Button{ButtonDownload, DataDownload},
			Button{ButtonUnregister, DataUnregister},
			Button{ButtonExit, DataExit},
		)}

	case GroupList:
		c, _ := s.Ctx.(GroupListCtx)
		var kb [][]Button
		for i, g := range c.Groups {
			kb = append(kb,
				[]Button{{g.Title + " · " + ButtonManage, indexed("grp", i, "students")}},
				[]Button{{ButtonLink, indexed("grp", i, "link")}, {ButtonDelete, indexed("grp", i, "del")}},
			)
		}
		return Prompt{Text: TextGroupList, Keyboard: append(kb, []Button{{ButtonBack, DataBack}})}

	case GroupDeleteConfirm, GroupDeleteReconfirm:
		c, _ := s.Ctx.(GroupActionCtx)
		text := TextGroupDelete
		if s.State == GroupDeleteReconfirm {
			text = TextGroupDeleteAgain
		}
		return confirm(fmt.Sprintf(text, c.Group.Title))

	case StudentList:
		c, _ := s.Ctx.(StudentListCtx)
		var kb [][]Button
		for i, st := range c.Students {
			toggle := Button{st.FullName() + " · " + ButtonBan, indexed("stu", i, "ban")}
			if st.Banned {
				toggle = Button{st.FullName() + " · " + ButtonReadmit, indexed("stu", i, "readmit")}
			}
			kb = append(kb, []Button{toggle, {ButtonExpel, indexed("stu", i, "expel")}})
		}
		return Prompt{Text: fmt.Sprintf(TextStudentList, c.Group.Title), Keyboard: append(kb, []Button{{ButtonBack, DataBack}})}

	case StudentBanConfirm, StudentReadmitConfirm, StudentExpelConfirm, StudentExpelReconfirm:
		c, _ := s.Ctx.(StudentActionCtx)
		name := c.Student.FullName()
		switch s.State {
		case StudentBanConfirm:
			return confirm(fmt.Sprintf(TextBanConfirm, name, c.Group.Title))
		case StudentReadmitConfirm:
			return confirm(fmt.Sprintf(TextReadmitConfirm, name, c.Group.Title))
		case StudentExpelConfirm:
			return confirm(fmt.Sprintf(TextExpelConfirm, name, c.Group.Title))
		default:
			return confirm(fmt.Sprintf(TextExpelAgain, name))
		}

	case AnnouncementMenu:
		c, _ := s.Ctx.(AnnouncementListCtx)
		var kb [][]Button
		for i, a := range c.Announcements {
			when := a.DeliverAt.Format(displayLayout)
			kb = append(kb, []Button{
				{when + " · " + ButtonRead, indexed("ann", i, "read")},
				{ButtonRemove, indexed("ann", i, "rm")},
			})
		}
		kb = append(kb, []Button{{ButtonNew, DataNew}}, []Button{{ButtonBack, DataBack}})
		return Prompt{Text: TextAnnouncementList, Keyboard: kb}

	case AnnouncementOffer:
		return confirm(TextAnnouncementOffer)

	case AnnouncementDeleteConfirm:
		c, _ := s.Ctx.(AnnouncementActionCtx)
		return confirm(fmt.Sprintf(TextAnnouncementDelete, c.Announcement.DeliverAt.Format(displayLayout)))

	case ComposeContent:
		c, _ := s.Ctx.(ComposeCtx)
		return Prompt{
			Text:     fmt.Sprintf(TextComposeContent, len(c.Items)),
			Keyboard: [][]Button{{{ButtonAccept, DataAccept}, {ButtonCancel, DataCancel}}},
		}

	case ComposeGroups:
		c, _ := s.Ctx.(ComposeCtx)
		kb := make([][]Button, 0, len(c.Groups)+1)
		for i, g := range c.Groups {
			mark := "⬜ "
			if i < len(c.Selected) && c.Selected[i] {
				mark = "☑️ "
			}
			kb = append(kb, []Button{{mark + g.Title, indexed("tog", i, "")}})
		}
		kb = append(kb, []Button{{ButtonSave, DataSave}, {ButtonCancel, DataCancel}})
		return Prompt{Text: TextComposeGroups, Keyboard: kb}

	case ComposeDate:
		return cancellable(TextComposeDate)
	case ComposeTime:
		return cancellable(TextComposeTime)

	case DownloadStartDate:
		return cancellable(TextDownloadStartDate)
	case DownloadStartTime:
		return cancellable(TextDownloadStartTime)
	case DownloadEndDate:
		return cancellable(TextDownloadEndDate)
	case DownloadEndTime:
		return cancellable(TextDownloadEndTime)

	case DownloadGroup:
		c, _ := s.Ctx.(DownloadCtx)
		kb := make([][]Button, 0, len(c.Groups)+1)
		for i, g := range c.Groups {
			kb = append(kb, []Button{{groupLabel(g), indexed("grp", i, "")}})
		}
		kb = append(kb, []Button{{ButtonCancel, DataCancel}})
		return Prompt{Text: TextDownloadGroup, Keyboard: kb}

	case DownloadConfirm:
		c, _ := s.Ctx.(DownloadCtx)
		return confirm(fmt.Sprintf(TextDownloadConfirm,
			c.Group.Title, c.From.Format(displayLayout), c.To.Format(displayLayout)))

	case UnregisterConfirm:
		return confirm(TextUnregisterConfirm)
	case UnregisterReconfirm:
		return confirm(TextUnregisterAgain)
	}

	return Prompt{}
}

func confirm(text string) Prompt {
	return Prompt{Text: text, Keyboard: [][]Button{{{ButtonYes, DataYes}, {ButtonNo, DataNo}}}}
}

func cancellable(text string) Prompt {
	return Prompt{Text: text, Keyboard: [][]Button{{{ButtonCancel, DataCancel}}}}
}

func column(buttons ...Button) [][]Button {
	kb := make([][]Button, len(buttons))
	for i, b := range buttons {
		kb[i] = []Button{b}
	}
	return kb
}

func indexed(prefix string, i int, action string) string {
	data := prefix + ":" + strconv.Itoa(i)
	if action != "" {
		data += ":" + action
	}
	return data
}

// deleted groups stay exportable and are marked as such
func groupLabel(g database.Group) string {
	if !g.Valid {
		return g.Title + " 🗑"
	}
	return g.Title
}
