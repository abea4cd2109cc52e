// Package tgui renders Telegram HTML messages and inline keyboards.
//
// Values of type H are already escaped for ParseMode HTML. Card lays out
// a titled block of lines and fits it under a message limit without
// cutting through a tag.
package tgui
