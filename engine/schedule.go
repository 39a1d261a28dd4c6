package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/calendar"
	"github.com/BaSui01/stageflow/store"
)

// ============ 🗓️ 会议预约副作用 ============

// 预约幂等性与事件标识使用的变量键
const (
	varMeetingCreated = "meeting_created"
	varMeetingEventID = "meeting_event_id"
	varMeetingLink    = "meeting_link"
)

var (
	dayMonthPattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
	hourPattern     = regexp.MustCompile(`(\d{1,2})(?::(\d{2}))?h?`)
	// 在日期串的剩余部分找时刻时要求带 : 或 h，避免把年份当成小时
	markedHourPattern = regexp.MustCompile(`(\d{1,2})(?::(\d{2})|h)`)
)

// ParseMeetingTime 从会话变量中解析会议起始时间。日期取 data_reuniao
// 中的 DD/MM 标记；时刻优先取 horario_reuniao，缺失时在 data_reuniao
// 中找 HH:MM，都没有则用 defaultHour 整点。年份取当前年，解析出的
// 月份早于当前月份时取下一年。返回值为 loc 时区下的墙钟时间。
func ParseMeetingTime(vars store.VariableMap, now time.Time, loc *time.Location, defaultHour int) (time.Time, bool) {
	dateStr := vars.Get("data_reuniao")
	timeStr := vars.Get("horario_reuniao")

	m := dayMonthPattern.FindStringSubmatch(dateStr)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return time.Time{}, false
	}

	hour := defaultHour
	minute := 0
	source := timeStr
	pattern := hourPattern
	if source == "" {
		// data_reuniao 里 DD/MM 之后可能带时刻
		source = dateStr[dayMonthPattern.FindStringIndex(dateStr)[1]:]
		pattern = markedHourPattern
	}
	if hm := pattern.FindStringSubmatch(source); hm != nil {
		if h, err := strconv.Atoi(hm[1]); err == nil && h >= 0 && h <= 23 {
			hour = h
			if hm[2] != "" {
				if mm, err := strconv.Atoi(hm[2]); err == nil && mm >= 0 && mm <= 59 {
					minute = mm
				}
			}
		}
	}

	year := now.Year()
	if month < int(now.Month()) {
		year++
	}

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), true
}

// shouldScheduleMeeting 判断本轮是否触发预约：当前处于预约阶段，
// 变量集已有邮箱与日期或时刻，且尚未创建过会议。
func shouldScheduleMeeting(activeStage *store.Stage, vars store.VariableMap) bool {
	if activeStage.StageType != store.StageTypeSchedule {
		return false
	}
	if vars.Has(varMeetingCreated) {
		return false
	}
	if !vars.Has("email") {
		return false
	}
	return vars.Has("data_reuniao") || vars.Has("horario_reuniao")
}

// maybeScheduleMeeting 在满足触发条件时创建日历事件。成功后把
// meeting_created 与事件标识写回变量表保证幂等；任何失败只记日志，
// 永不影响已生成的回复。
func (e *Engine) maybeScheduleMeeting(ctx context.Context, agent *store.Agent, session *store.Session, activeStage *store.Stage) {
	if !shouldScheduleMeeting(activeStage, session.Variables) {
		return
	}

	start, ok := ParseMeetingTime(session.Variables, time.Now().In(e.location), e.location, e.cfg.Calendar.DefaultHour)
	if !ok {
		e.logger.Debug("meeting variables present but date not parseable",
			zap.String("session_id", session.ID),
			zap.String("data_reuniao", session.Variables.Get("data_reuniao")))
		return
	}

	contactName := session.Variables.Get("nome")
	if contactName == "" {
		contactName = session.UserID
	}

	event := calendar.Event{
		Summary:       fmt.Sprintf("Reunião: %s e %s", agent.Name, contactName),
		Description:   buildMeetingDescription(session.Variables),
		Start:         start,
		End:           start.Add(e.cfg.Calendar.MeetingDuration),
		TimeZone:      e.cfg.Calendar.Timezone,
		AttendeeEmail: session.Variables.Get("email"),
	}

	result, err := e.calendar.CreateEvent(ctx, agent.ID, event)
	if err != nil {
		e.logger.Error("meeting creation failed",
			zap.String("session_id", session.ID),
			zap.Error(NewSideEffectError("create calendar event", err)))
		e.metrics.RecordMeetingCreated(agent.ID, "error")
		return
	}

	session.Variables = store.MergeVariables(session.Variables, map[string]string{
		varMeetingCreated: "true",
		varMeetingEventID: result.ID,
		varMeetingLink:    result.Link,
	})
	if err := e.store.SaveSession(ctx, session); err != nil {
		e.logger.Error("failed to persist meeting flag",
			zap.String("session_id", session.ID),
			zap.Error(err))
	}
	e.metrics.RecordMeetingCreated(agent.ID, "created")

	e.logger.Info("meeting created",
		zap.String("session_id", session.ID),
		zap.String("event_id", result.ID),
		zap.Time("start", start))
}

func buildMeetingDescription(vars store.VariableMap) string {
	desc := "Reunião agendada pela assistente virtual."
	if area := vars.Get("area"); area != "" {
		desc += fmt.Sprintf(" Área de atuação: %s.", area)
	}
	if desafio := vars.Get("desafio"); desafio != "" {
		desc += fmt.Sprintf(" Desafio relatado: %s.", desafio)
	}
	return desc
}

// ParseUTCOffset 将 "-03:00" 形式的偏移量解析为秒数
func ParseUTCOffset(offset string) (int, error) {
	var sign int
	switch {
	case len(offset) == 6 && offset[0] == '-':
		sign = -1
	case len(offset) == 6 && offset[0] == '+':
		sign = 1
	default:
		return 0, fmt.Errorf("invalid UTC offset %q", offset)
	}

	hours, err := strconv.Atoi(offset[1:3])
	if err != nil {
		return 0, fmt.Errorf("invalid UTC offset %q", offset)
	}
	minutes, err := strconv.Atoi(offset[4:6])
	if err != nil || offset[3] != ':' {
		return 0, fmt.Errorf("invalid UTC offset %q", offset)
	}

	return sign * (hours*3600 + minutes*60), nil
}
