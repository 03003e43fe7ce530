/*
Package ntag424 talks EV2 secure messaging to NXP NTAG 424 DNA tags and
computes Secure Dynamic Messaging (SDM) offsets for URL templates.

The package is transport-agnostic. Everything goes through the Card
interface; Connection (PC/SC) and PN532Card (PN532 over UART) are the two
bundled implementations. Nothing here retries, discovers tags or stores
keys. Those decisions belong to the caller (see the sdmconfig command).

Layers, leaves first:
  - Cipher primitives: EncryptBlock, EncryptCBC, DecryptCBC, CMAC
  - Key derivation: DeriveSessionKeys, DeriveDynamicKey
  - Authentication: AuthenticateEV2First returns a *Session
  - Secure codec: SendSecure, RotateKey, ChangeKey, RewriteFileSettings
  - Plain commands: ListFileIDs, GetFileSettings, ReadDataPlain, GetVersion
  - SDM: AutoDetectNDEFFile, ComputeOffsets, PatchFileSettings, ConfigureSDM

# Access Rights Encoding

The 16-bit access rights value is organized (MSB→LSB) as:

	bits 15-12: Read key
	bits 11-8:  Write key
	bits 7-4:   ReadWrite key
	bits 3-0:   ChangeAccessRights key

It is stored little-endian at offsets 2-3 of a GetFileSettings response:

	AR1 (offset 2) = [ReadWrite nibble | ChangeAccessRights nibble]
	AR2 (offset 3) = [Read nibble      | Write nibble]

Nibble 0x0-0xD names a key slot, 0xE means free and 0xF means denied.

# Operation: AuthenticateEV2First (INS 0x71 + 0xAF)

Phase 1 (challenge decrypted under a zero IV):

	Command:  90 71 00 00 02 <keyNo> 00 00
	Response: <C = E(K, RndB)(16)> | SW=91AF

Phase 2:

	Command:  90 AF 00 00 20 <P = E(K, IV1, RndA || rotl(RndB))(32)> 00
	Response: <E(K, IV2, TI(4) || rotl(RndA)(16) || caps(12))(32)> | SW=9100

With ChainedIV (the default) IV1 = C and IV2 = P[16:32]. With ZeroIV both
are zero, as in NXP AN12196.

Session keys:

	SV1  = A5 5A 00 01 00 80 || ctx
	SV2  = 5A A5 00 01 00 80 || ctx
	ctx  = rndA[0:2] || (rndA[2:8] XOR rndB[0:6]) || rndB[6:16] || rndA[8:16]
	Kenc = AES-CMAC(K, SV1)
	Kmac = AES-CMAC(K, SV2)

SelectNDEFApp and SelectFile reset authentication on the tag. Select first.

# Secure Messaging (full mode)

For command counter C (little-endian) and transaction identifier TI:

	IVc   = E(Kenc, A5 5A || TI || C || 00*8)
	Enc   = E-CBC(Kenc, IVc, pad80(data))          omitted when data is empty
	MAC   = odd bytes of CMAC(Kmac, cmd || C || TI || header || Enc)
	Frame = 90 <cmd> 00 00 <Lc> header || Enc || MAC 00

C is incremented once per command before transmission. The response is
checked against C+1:

	MACr  = odd bytes of CMAC(Kmac, 00 || C+1 || TI || EncR)
	IVr   = E(Kenc, 5A A5 || TI || C+1 || 00*8)

A status-only answer (ChangeKey on the authenticated slot) carries no MAC.
Any non-9100 status, bad MAC or transport failure ends the session.

# Operation: GetFileSettings (INS 0xF5)

	Command:  90 F5 00 00 01 <fileNo> 00
	Response: settings | SW=9100

Read layout of an SDM file with UID and counter mirroring, plain meta read
and encrypted file data:

	[0]      FileType
	[1]      FileOption   bit 6 = SDM, bits 1:0 = comm mode
	[2:4]    AR1 AR2
	[4:7]    FileSize
	[7]      SDMOptions   bit7 UID, bit6 Ctr, bit5 CtrLimit, bit4 ENC, bit0 ASCII
	[8:10]   SDMAR        [Meta | File | RFU | Ctr]
	[10:13]  UIDOffset
	[13:16]  SDMReadCtrOffset
	[16:19]  SDMMACInputOffset
	[19:22]  SDMENCOffset
	[22:25]  SDMENCLength
	[25:28]  SDMMACOffset

SettingsBlob appends the SDM MAC length so PatchFileSettings can carry every
offset and length:

	[28:31]  SDMMACLength

# Operation: ChangeFileSettings (INS 0x5F)

Always full mode, header = fileNo. RewriteFileSettings sends its data as
given. The tag expects the read layout without FileType, FileSize and
SDMMACLength, which is what ChangeSettingsPayload returns:

	FileOption || AR1 || AR2 || SDMOptions || SDMAR || offsets [10:28]

	SW=917E  Length disagrees with SDMOptions
	SW=919E  Offsets out of range or conflicting
	SW=91AE  Wrong ChangeAccessRights key

# Operation: ReadData (INS 0xBD), plain

	Command:  90 BD 00 00 07 <fileNo> <offset(3)LE> <length(3)LE> 00

	SW=919D  Read access is not free
	SW=91BE  Boundary error: offset+length past end of file

# Operation: ChangeKey (INS 0xC4)

Header = key slot. Authenticated slot: NewKey || Version. Other slots:
(NewKey XOR OldKey) || Version || CRC32(NewKey).

# SDM Offsets

An NDEF file image is NLEN(2, big-endian) followed by one short URI record:

	D1 01 <PL> 55 <prefix> <URI tail>

A field's absolute offset is payloadOffset + 1 + its index in the URI tail,
pointing at the first character after "e=", "c=" or "m=".

# Status Words

	9000 / 9100  Success
	91AF         Additional frame expected
	917E         Length error
	91AE         Authentication error (wrong key for slot)
	919D         Permission denied
	919E         Parameter error
	91BE         Boundary error
	911E         Integrity error
	6982         Security status not satisfied
	6A82         File not found
	6Cxx         Wrong Le, xx is the correct one
*/
package ntag424
