package tod

// HourLayout describes the bits of the RTC's hour register in 12-hour mode.  The low nibble always
// holds the units digit.
type HourLayout struct {
	TwelveHour byte // Set on every write to keep the chip in 12-hour mode.
	PM         byte
	Tens       byte // Set for hours 10-12.
}

// DS1302 is the hour register layout from the DS1302 datasheet.
var DS1302 = HourLayout{TwelveHour: 0x80, PM: 0x20, Tens: 0x10}

// DecodeHour splits an hour register into the hour (nominally 1-12) and the PM flag.
func (l HourLayout) DecodeHour(reg byte) (hour uint8, pm bool) {
	hour = reg & 0x0f
	if l.Tens != 0 && reg&l.Tens != 0 {
		hour += 10
	}
	return hour, l.PM != 0 && reg&l.PM != 0
}

// EncodeHour builds an hour register, always marking 12-hour mode.
func (l HourLayout) EncodeHour(hour uint8, pm bool) byte {
	reg := l.TwelveHour
	if hour >= 10 {
		reg |= l.Tens
		hour -= 10
	}
	reg |= hour & 0x0f
	if pm {
		reg |= l.PM
	}
	return reg
}

// DecodeMinute splits a two-digit BCD minute register.  Bit 7 is not part of the minute.
func DecodeMinute(reg byte) (tens, units uint8) {
	return (reg >> 4) & 0x07, reg & 0x0f
}

// EncodeMinute packs two digits into BCD.
func EncodeMinute(tens, units uint8) byte {
	return (tens&0x07)<<4 | units&0x0f
}

// Decode converts the RTC's hour and minute registers to a Time.  The result may be out of range
// if the registers held garbage; check Valid.
func (l HourLayout) Decode(hourReg, minuteReg byte) Time {
	var t Time
	t.Hour, t.PM = l.DecodeHour(hourReg)
	t.MinuteTens, t.MinuteUnits = DecodeMinute(minuteReg)
	return t
}

// Encode converts a Time to the RTC's hour and minute registers.
func (l HourLayout) Encode(t Time) (hourReg, minuteReg byte) {
	return l.EncodeHour(t.Hour, t.PM), EncodeMinute(t.MinuteTens, t.MinuteUnits)
}
