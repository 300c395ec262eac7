package voice

import (
	"encoding/xml"
	"fmt"
)

// Response представляет корневой элемент TwiML-документа.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say произносит фразу синтезатором речи.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Gather собирает нажатия клавиш и речь и отправляет их на Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	NumDigits     int      `xml:"numDigits,attr,omitempty"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Language      string   `xml:"language,attr,omitempty"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Hints         string   `xml:"hints,attr,omitempty"`
	Says          []Say
}

// Redirect переводит звонок на другой URL.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

// Pause задаёт паузу в секундах.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Hangup завершает звонок.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Builder собирает TwiML-документ.
type Builder struct {
	voice    string
	language string
	resp     Response
}

// NewBuilder создаёт построитель с голосом и языком синтезатора.
func NewBuilder(voiceName, language string) *Builder {
	return &Builder{voice: voiceName, language: language}
}

// Say добавляет фразы; пустые пропускаются.
func (b *Builder) Say(texts ...string) *Builder {
	for _, t := range texts {
		if t != "" {
			b.resp.Verbs = append(b.resp.Verbs, b.say(t))
		}
	}
	return b
}

// Gather добавляет сбор ответа (одна клавиша или речь) с подсказками внутри.
func (b *Builder) Gather(action string, timeoutSec int, hints string, prompts ...string) *Builder {
	g := Gather{
		Input:         "dtmf speech",
		NumDigits:     1,
		Action:        action,
		Method:        "POST",
		Language:      b.language,
		Timeout:       timeoutSec,
		SpeechTimeout: "auto",
		Hints:         hints,
	}
	for _, p := range prompts {
		if p != "" {
			g.Says = append(g.Says, b.say(p))
		}
	}
	b.resp.Verbs = append(b.resp.Verbs, g)
	return b
}

// Pause добавляет паузу.
func (b *Builder) Pause(seconds int) *Builder {
	b.resp.Verbs = append(b.resp.Verbs, Pause{Length: seconds})
	return b
}

// Redirect добавляет переход на url.
func (b *Builder) Redirect(url string) *Builder {
	b.resp.Verbs = append(b.resp.Verbs, Redirect{Method: "POST", URL: url})
	return b
}

// Hangup завершает сценарий.
func (b *Builder) Hangup() *Builder {
	b.resp.Verbs = append(b.resp.Verbs, Hangup{})
	return b
}

// Bytes сериализует документ с XML-заголовком.
func (b *Builder) Bytes() ([]byte, error) {
	body, err := xml.Marshal(b.resp)
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func (b *Builder) say(text string) Say {
	return Say{Voice: b.voice, Language: b.language, Text: text}
}
