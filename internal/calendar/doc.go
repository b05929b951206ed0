// Package calendar renders home games as an iCalendar (RFC 5545) feed.
package calendar
