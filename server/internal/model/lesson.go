package model

import "time"

// Participant 是课程里的一个参与者。
type Participant struct {
	ID       string    `json:"participantId"`
	LessonID string    `json:"lessonId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Lesson 是一节课当前的参与者名单。名单只用于路由与展示，不持久化工作区状态。
type Lesson struct {
	ID           string        `json:"lessonId"`
	Participants []Participant `json:"participants"`
}

// Tutor 返回权威端参与者。
func (l *Lesson) Tutor() (Participant, bool) {
	for _, p := range l.Participants {
		if p.Role.Authoritative() {
			return p, true
		}
	}
	return Participant{}, false
}
